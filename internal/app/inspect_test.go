package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/profile"
	"github.com/mmrzaf/etlflow/internal/sanitize"
)

func TestInspect_SanitizesDetectsAndProfiles(t *testing.T) {
	dir := t.TempDir()
	path := write(t, filepath.Join(dir, "people.csv"), "\ufeffid;name;joined\r\n1;Ada;2021-03-04\r\n2;Bob;2022-11-30\r\n")

	san := domain.DefaultSanitizerConfig()
	in, err := Inspect(path, &san, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.FileKindCSV, in.Format.Kind)
	assert.Equal(t, ";", in.Format.Delimiter)
	assert.True(t, in.Format.HasHeader)
	require.NotNil(t, in.Report)
	assert.Equal(t, 1, in.Report.Stats[sanitize.StatBOMRemoved])
	assert.NotContains(t, in.Sanitized, "\r")

	schema, err := in.Profile(nil, 0)
	require.NoError(t, err)
	require.Len(t, schema.Columns, 3)
	assert.Equal(t, "id", schema.Columns[0].Name)
	assert.Equal(t, profile.TypeInteger, schema.Columns[0].Type)
	assert.Equal(t, profile.TypeDate, schema.Columns[2].Type)
}

func TestInspect_OverrideWins(t *testing.T) {
	dir := t.TempDir()
	path := write(t, filepath.Join(dir, "rows.txt"), "a|b\n1|2\n")

	noHeader := false
	in, err := Inspect(path, nil, &domain.FormatConfig{HasHeader: &noHeader})
	require.NoError(t, err)
	assert.False(t, in.Format.HasHeader)
	assert.Nil(t, in.Report)
}
