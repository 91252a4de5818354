package schema_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema"
)

func TestRegistry_RegisterYAML(t *testing.T) {
	tests := []struct {
		name       string
		definition string
		wantErr    bool
		errMsg     string
	}{
		{
			name: "valid shorthand - all scalar types",
			definition: `
event: test_event
fields:
  str_field:  string
  num_field:  number
  int_field:  integer
  bool_field: boolean
`,
		},
		{
			name: "valid long form - nested object and array",
			definition: `
event: checkout
fields:
  cart:
    type: object!
    fields:
      total:
        type: number!
        min: 0
      skus:
        type: array
        items: string
`,
		},
		{
			name:       "missing event name",
			definition: "fields:\n  a: string\n",
			wantErr:    true,
			errMsg:     "event name is required",
		},
		{
			name:       "unsupported type",
			definition: "event: e\nfields:\n  a: uuid\n",
			wantErr:    true,
			errMsg:     `unsupported type "uuid"`,
		},
		{
			name:       "enum without values",
			definition: "event: e\nfields:\n  a: enum!\n",
			wantErr:    true,
			errMsg:     "enum fields require at least one value",
		},
		{
			name: "invalid pattern",
			definition: `
event: e
fields:
  a:
    type: string
    pattern: "(["
`,
			wantErr: true,
			errMsg:  "invalid regex pattern",
		},
		{
			name: "min exceeds max",
			definition: `
event: e
fields:
  a:
    type: number
    min: 10
    max: 1
`,
			wantErr: true,
			errMsg:  "cannot exceed max",
		},
		{
			name:       "empty definition",
			definition: "",
			wantErr:    true,
			errMsg:     "definition is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := schema.NewRegistry()
			def, err := reg.RegisterYAML([]byte(tt.definition))

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, def.Fingerprint)

			got, err := reg.Get(def.Event)
			require.NoError(t, err)
			assert.Equal(t, def.Event, got.Event)
		})
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := schema.NewRegistry()
	raw := []byte("event: signup\nfields:\n  plan: string!\n")

	_, err := reg.RegisterYAML(raw)
	require.NoError(t, err)

	// Identical definition is idempotent
	_, err = reg.RegisterYAML(raw)
	require.NoError(t, err)

	_, err = reg.RegisterYAML([]byte("event: signup\nfields:\n  plan: number!\n"))
	require.ErrorIs(t, err, schema.ErrAlreadyExists)
}

func TestRegistry_RegisterNameMismatch(t *testing.T) {
	reg := schema.NewRegistry()
	err := reg.Register("a", &schema.Definition{Event: "b"})
	require.Error(t, err)

	require.NoError(t, reg.Register("c", &schema.Definition{}))
	def, err := reg.Get("c")
	require.NoError(t, err)
	assert.Equal(t, "c", def.Event)
}

func TestRegistry_ValidateUnknownEvent(t *testing.T) {
	reg := schema.NewRegistry()

	_, err := reg.Validate("never_registered", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrNotFound))

	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "never_registered", ve.Schema)
}

func TestRegistry_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gift_card.yaml"), []byte(`
event: gift_card
fields:
  amount: number!
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	reg := schema.NewRegistry()
	n, err := reg.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"gift_card"}, reg.Names())

	_, err = reg.LoadDir(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestRegistry_LoadFS_InvalidFile(t *testing.T) {
	fsys := fstest.MapFS{
		"ok.yaml":  {Data: []byte("event: ok\nfields:\n  a: string\n")},
		"bad.yaml": {Data: []byte("event: bad\nfields:\n  a: nope\n")},
	}

	reg := schema.NewRegistry()
	_, err := reg.LoadFS(fsys, ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}
