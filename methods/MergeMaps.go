package methods

import "reflect"

// MergeMaps 合并两个 map，键重复时以 map2 为准
func MergeMaps(map1, map2 map[string]interface{}) map[string]interface{} {
	mergedMap := make(map[string]interface{}, len(map1)+len(map2))
	for k, v := range map1 {
		mergedMap[k] = v
	}
	for k, v := range map2 {
		mergedMap[k] = v
	}
	return mergedMap
}

// PropertyModification 同名属性取值不同
type PropertyModification struct {
	Key    string      `json:"key"`
	Source interface{} `json:"source"`
	Target interface{} `json:"target"`
}

// PropertyDiff 以 target 为基准比较 source 的属性键集合
type PropertyDiff struct {
	Added    []string               `json:"added"`
	Removed  []string               `json:"removed"`
	Modified []PropertyModification `json:"modified"`
}

// DiffProperties 比较两组属性
func DiffProperties(source, target map[string]interface{}) PropertyDiff {
	diff := PropertyDiff{
		Added:    []string{},
		Removed:  []string{},
		Modified: []PropertyModification{},
	}
	all := MergeMaps(target, source)
	for _, key := range SortedKeys(all) {
		sv, inSource := source[key]
		tv, inTarget := target[key]
		switch {
		case !inTarget:
			diff.Added = append(diff.Added, key)
		case !inSource:
			diff.Removed = append(diff.Removed, key)
		case !reflect.DeepEqual(sv, tv):
			diff.Modified = append(diff.Modified, PropertyModification{Key: key, Source: sv, Target: tv})
		}
	}
	return diff
}
