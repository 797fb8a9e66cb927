package methods

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// SupportedGeometryTypes 允许存入要素的几何类型
var SupportedGeometryTypes = []string{
	"Point",
	"LineString",
	"Polygon",
	"MultiPoint",
	"MultiLineString",
	"MultiPolygon",
}

// 数据集几何类型对应允许的 GeoJSON 类型，geometry 不做限制
var datasetGeometryKinds = map[string][]string{
	"point":        {"Point"},
	"line":         {"LineString"},
	"polygon":      {"Polygon"},
	"multipoint":   {"MultiPoint", "Point"},
	"multiline":    {"MultiLineString", "LineString"},
	"multipolygon": {"MultiPolygon", "Polygon"},
}

// IsValidGeoType 数据集几何类型是否合法
func IsValidGeoType(geoType string) bool {
	if geoType == "geometry" {
		return true
	}
	_, ok := datasetGeometryKinds[geoType]
	return ok
}

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ValidateGeometry 结构校验：必须声明支持的类型并带有坐标
func ValidateGeometry(data []byte, geoType string) error {
	if len(data) == 0 {
		return errors.New("invalid geometry: missing geometry")
	}
	var raw rawGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid geometry: %v", err)
	}
	if raw.Type == "" {
		return errors.New("invalid geometry: missing type")
	}
	if len(raw.Coordinates) == 0 || string(raw.Coordinates) == "null" {
		return errors.New("invalid geometry: missing coordinates")
	}
	if !IsStringInSlice(raw.Type, SupportedGeometryTypes) {
		return fmt.Errorf("invalid geometry type: %s", raw.Type)
	}
	if _, err := geojson.UnmarshalGeometry(data); err != nil {
		return fmt.Errorf("invalid geometry: %v", err)
	}

	if kinds, ok := datasetGeometryKinds[geoType]; ok && !IsStringInSlice(raw.Type, kinds) {
		return fmt.Errorf("geometry type %s does not match dataset type %s", raw.Type, geoType)
	}
	return nil
}

// GeometryEqual 几何结构比较，解析失败时退回到字节比较
func GeometryEqual(a, b []byte) bool {
	ga, errA := geojson.UnmarshalGeometry(a)
	gb, errB := geojson.UnmarshalGeometry(b)
	if errA != nil || errB != nil {
		return string(a) == string(b)
	}
	return orb.Equal(ga.Geometry(), gb.Geometry())
}
