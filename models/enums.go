package models

// 用户角色
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// 分支状态，merged / deleted 为终态
type BranchStatus string

const (
	BranchActive  BranchStatus = "active"
	BranchMerged  BranchStatus = "merged"
	BranchDeleted BranchStatus = "deleted"
)

// 要素状态，只做软删除
type FeatureStatus string

const (
	FeatureActive  FeatureStatus = "active"
	FeatureDeleted FeatureStatus = "deleted"
)

// MergeRequestStatus 合并请求状态
//
// draft -> reviewing -> approved / rejected / cancelled
// draft / reviewing <-> conflict
// pending 仅为历史数据保留，不会由任何流转产生
type MergeRequestStatus string

const (
	MergeDraft     MergeRequestStatus = "draft"
	MergeReviewing MergeRequestStatus = "reviewing"
	MergePending   MergeRequestStatus = "pending"
	MergeApproved  MergeRequestStatus = "approved"
	MergeRejected  MergeRequestStatus = "rejected"
	MergeConflict  MergeRequestStatus = "conflict"
	MergeCancelled MergeRequestStatus = "cancelled"
)

// ActiveMergeStatuses 同一源分支上同时只能存在一个处于这些状态的合并请求
var ActiveMergeStatuses = []MergeRequestStatus{MergeDraft, MergeReviewing, MergePending, MergeConflict}

// IsActive 是否为未结束的状态
func (s MergeRequestStatus) IsActive() bool {
	for _, st := range ActiveMergeStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal 是否为终态
func (s MergeRequestStatus) IsTerminal() bool {
	return s == MergeApproved || s == MergeRejected || s == MergeCancelled
}

type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictDeletedInTarget        ConflictType = "deleted_in_target"
	ConflictDeleteModified         ConflictType = "delete_modified_conflict"
	ConflictConcurrentModification ConflictType = "concurrent_modification"
)

// ResolutionStrategy 冲突解决策略
type ResolutionStrategy string

const (
	ResolveKeepSource      ResolutionStrategy = "keep_source"
	ResolveKeepTarget      ResolutionStrategy = "keep_target"
	ResolveManual          ResolutionStrategy = "manual"
	ResolveMergeProperties ResolutionStrategy = "merge_properties"
)

// 数据集几何类型
const (
	GeoTypePoint        = "point"
	GeoTypeLine         = "line"
	GeoTypePolygon      = "polygon"
	GeoTypeMultiPoint   = "multipoint"
	GeoTypeMultiLine    = "multiline"
	GeoTypeMultiPolygon = "multipolygon"
	GeoTypeGeometry     = "geometry"
)
