package services

import "github.com/GrainArc/GeoVersion/models"

// Actor 调用者身份，由上游认证提供
type Actor struct {
	ID           string      `json:"id"`
	Role         models.Role `json:"role"`
	DepartmentID string      `json:"departmentId"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

type Operation string

const (
	OpEditBranch        Operation = "branch.edit"
	OpDeleteBranch      Operation = "branch.delete"
	OpCreateMerge       Operation = "merge.create"
	OpSubmitMerge       Operation = "merge.submit"
	OpCancelMerge       Operation = "merge.cancel"
	OpUpdateDescription Operation = "merge.update_description"
	OpApproveMerge      Operation = "merge.approve"
	OpRejectMerge       Operation = "merge.reject"
	OpResolveConflict   Operation = "merge.resolve_conflict"
)

// Resource 被操作对象的归属
type Resource struct {
	Kind    string
	ID      string
	OwnerID string
}

// Authorize 每个核心操作开始时调用的唯一鉴权入口
func Authorize(actor Actor, op Operation, res Resource) error {
	switch op {
	case OpApproveMerge, OpRejectMerge:
		if !actor.IsAdmin() {
			return forbidden("only admins can perform %s", op)
		}
	case OpResolveConflict:
		if actor.ID != res.OwnerID && !actor.IsAdmin() {
			return forbidden("only the creator or an admin can resolve conflicts of %s %s", res.Kind, res.ID)
		}
	case OpEditBranch, OpDeleteBranch, OpCreateMerge, OpSubmitMerge, OpCancelMerge, OpUpdateDescription:
		if actor.ID == "" || actor.ID != res.OwnerID {
			return forbidden("only the creator of %s %s can perform %s", res.Kind, res.ID, op)
		}
	default:
		return forbidden("unknown operation %s", op)
	}
	return nil
}
