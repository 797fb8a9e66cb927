package methods

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateGeometry(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		geoType string
		wantErr bool
	}{
		{name: "point", data: `{"type":"Point","coordinates":[1,2]}`, geoType: "point"},
		{name: "polygon", data: `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, geoType: "polygon"},
		{name: "single polygon in multipolygon dataset", data: `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, geoType: "multipolygon"},
		{name: "any kind in geometry dataset", data: `{"type":"MultiLineString","coordinates":[[[0,0],[1,1]]]}`, geoType: "geometry"},
		{name: "no dataset constraint", data: `{"type":"LineString","coordinates":[[0,0],[1,1]]}`},
		{name: "empty", data: ``, wantErr: true},
		{name: "not json", data: `POINT(1 2)`, wantErr: true},
		{name: "missing type", data: `{"coordinates":[1,2]}`, wantErr: true},
		{name: "missing coordinates", data: `{"type":"Point"}`, wantErr: true},
		{name: "null coordinates", data: `{"type":"Point","coordinates":null}`, wantErr: true},
		{name: "unsupported type", data: `{"type":"Circle","coordinates":[1,2]}`, wantErr: true},
		{name: "kind mismatch", data: `{"type":"Point","coordinates":[1,2]}`, geoType: "polygon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeometry([]byte(tt.data), tt.geoType)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsValidGeoType(t *testing.T) {
	for _, g := range []string{"point", "line", "polygon", "multipoint", "multiline", "multipolygon", "geometry"} {
		assert.True(t, IsValidGeoType(g), g)
	}
	assert.False(t, IsValidGeoType("raster"))
	assert.False(t, IsValidGeoType(""))
}

func TestGeometryEqual(t *testing.T) {
	a := []byte(`{"type":"Point","coordinates":[1,2]}`)
	spaced := []byte(`{ "coordinates": [1, 2], "type": "Point" }`)
	other := []byte(`{"type":"Point","coordinates":[1,3]}`)

	assert.True(t, GeometryEqual(a, spaced))
	assert.False(t, GeometryEqual(a, other))
	assert.True(t, GeometryEqual([]byte(`garbage`), []byte(`garbage`)))
	assert.False(t, GeometryEqual(a, []byte(`garbage`)))
}

func TestDiffProperties(t *testing.T) {
	source := map[string]interface{}{"name": "new", "same": 1.0, "added": true}
	target := map[string]interface{}{"name": "old", "same": 1.0, "gone": "x"}

	diff := DiffProperties(source, target)
	assert.Equal(t, []string{"added"}, diff.Added)
	assert.Equal(t, []string{"gone"}, diff.Removed)
	assert.Equal(t, []PropertyModification{{Key: "name", Source: "new", Target: "old"}}, diff.Modified)

	empty := DiffProperties(nil, nil)
	assert.Empty(t, empty.Added)
	assert.Empty(t, empty.Removed)
	assert.Empty(t, empty.Modified)
}

func TestMergeMaps(t *testing.T) {
	merged := MergeMaps(map[string]interface{}{"a": 1, "b": 1}, map[string]interface{}{"b": 2, "c": 3})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2, "c": 3}, merged)
}
