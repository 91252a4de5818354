package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema"
)

const checkoutSchema = `
event: checkout
strictMode: true
fields:
  order_id:
    type: string!
    minLength: 3
    maxLength: 12
    pattern: "^ord-"
  total:
    type: number!
    min: 0
  quantity:
    type: integer
    min: 1
    max: 10
  gift: boolean
  channel:
    type: enum
    values: [web, phone]
  tags:
    type: array
    max: 3
    items: string
  address:
    type: object
    fields:
      city: string!
      zip: string
`

func newCheckoutRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.RegisterYAML([]byte(checkoutSchema))
	require.NoError(t, err)
	return reg
}

func TestValidate(t *testing.T) {
	reg := newCheckoutRegistry(t)

	tests := []struct {
		name      string
		props     map[string]interface{}
		wantErr   bool
		errFields []string
	}{
		{
			name:  "minimal valid",
			props: map[string]interface{}{"order_id": "ord-1", "total": 12.5},
		},
		{
			name: "all fields valid with Go-typed values",
			props: map[string]interface{}{
				"order_id": "ord-12",
				"total":    40,
				"quantity": int64(2),
				"gift":     true,
				"channel":  "web",
				"tags":     []string{"promo", "first"},
				"address":  map[string]interface{}{"city": "NYC"},
			},
		},
		{
			name:  "json.Number accepted",
			props: map[string]interface{}{"order_id": "ord-1", "total": json.Number("9.99")},
		},
		{
			name:      "missing required",
			props:     map[string]interface{}{"order_id": "ord-1"},
			wantErr:   true,
			errFields: []string{"total"},
		},
		{
			name:      "null required",
			props:     map[string]interface{}{"order_id": "ord-1", "total": nil},
			wantErr:   true,
			errFields: []string{"total"},
		},
		{
			name:      "type mismatch",
			props:     map[string]interface{}{"order_id": 7, "total": "12"},
			wantErr:   true,
			errFields: []string{"order_id", "total"},
		},
		{
			name:      "integer with fraction",
			props:     map[string]interface{}{"order_id": "ord-1", "total": 1.0, "quantity": 1.5},
			wantErr:   true,
			errFields: []string{"quantity"},
		},
		{
			name:      "enum not allowed",
			props:     map[string]interface{}{"order_id": "ord-1", "total": 1.0, "channel": "fax"},
			wantErr:   true,
			errFields: []string{"channel"},
		},
		{
			name:      "pattern and bounds",
			props:     map[string]interface{}{"order_id": "xx-1", "total": -1.0},
			wantErr:   true,
			errFields: []string{"order_id", "total"},
		},
		{
			name:      "array too long and wrong item type",
			props:     map[string]interface{}{"order_id": "ord-1", "total": 1.0, "tags": []interface{}{"a", 2, "c", "d"}},
			wantErr:   true,
			errFields: []string{"tags", "tags[1]"},
		},
		{
			name:      "nested required missing",
			props:     map[string]interface{}{"order_id": "ord-1", "total": 1.0, "address": map[string]interface{}{"zip": "10001"}},
			wantErr:   true,
			errFields: []string{"address.city"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Validate("checkout", tt.props)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, len(tt.props), len(got))
				return
			}

			require.Error(t, err)
			d, ok := err.(schema.ValidationDetailer)
			require.True(t, ok, "validation errors expose details")

			details := d.Details()
			var fields []string
			if f, ok := details["fields"].([]string); ok {
				fields = f
			} else if f, ok := details["field"].(string); ok {
				fields = []string{f}
			}
			assert.ElementsMatch(t, tt.errFields, fields)
		})
	}
}

func TestValidate_StrictModeUnknownFields(t *testing.T) {
	reg := newCheckoutRegistry(t)

	_, err := reg.Validate("checkout", map[string]interface{}{
		"order_id": "ord-1",
		"total":    1.0,
		"coupon":   "SAVE10",
	})
	require.Error(t, err)

	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"coupon"}, ve.UnknownFields)
}

func TestValidate_LenientModeAllowsExtraFields(t *testing.T) {
	reg := schema.NewRegistry()
	_, err := reg.RegisterYAML([]byte("event: click\nfields:\n  id: string!\n"))
	require.NoError(t, err)

	got, err := reg.Validate("click", map[string]interface{}{"id": "a", "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, got["extra"])
}

func TestValidate_ReturnsDeepCopy(t *testing.T) {
	reg := newCheckoutRegistry(t)

	address := map[string]interface{}{"city": "NYC"}
	props := map[string]interface{}{"order_id": "ord-1", "total": 1.0, "address": address}

	got, err := reg.Validate("checkout", props)
	require.NoError(t, err)

	address["city"] = "LA"
	props["total"] = 99.0

	assert.Equal(t, 1.0, got["total"])
	assert.Equal(t, "NYC", got["address"].(map[string]interface{})["city"])
}

func TestValidate_NilPropsTreatedAsEmpty(t *testing.T) {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register("ping", &schema.Definition{}))

	got, err := reg.Validate("ping", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestValidate_ReportsRule(t *testing.T) {
	reg := newCheckoutRegistry(t)

	tests := []struct {
		name  string
		props map[string]interface{}
		rule  schema.Rule
	}{
		{name: "missing", props: map[string]interface{}{"total": 1.0}, rule: schema.RuleRequired},
		{name: "too short", props: map[string]interface{}{"order_id": "or", "total": 1.0}, rule: schema.RuleMinLength},
		{name: "pattern", props: map[string]interface{}{"order_id": "abc-1", "total": 1.0}, rule: schema.RulePattern},
		{name: "below min", props: map[string]interface{}{"order_id": "ord-1", "total": -2}, rule: schema.RuleMin},
		{name: "enum", props: map[string]interface{}{"order_id": "ord-1", "total": 1, "channel": "fax"}, rule: schema.RuleEnum},
		{name: "type", props: map[string]interface{}{"order_id": "ord-1", "total": "ten"}, rule: schema.RuleType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Validate("checkout", tt.props)
			var ve *schema.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.rule, ve.Rule)
			assert.Equal(t, string(tt.rule), ve.Details()["rule"])
		})
	}
}

func TestMultiValidationError_Violations(t *testing.T) {
	reg := newCheckoutRegistry(t)

	_, err := reg.Validate("checkout", map[string]interface{}{"order_id": "x", "total": -1.0})
	var multi *schema.MultiValidationError
	require.ErrorAs(t, err, &multi)

	violations, ok := multi.Details()["violations"].([]map[string]string)
	require.True(t, ok)
	require.Len(t, violations, len(multi.Errors))
	assert.Equal(t, "order_id", violations[0]["field"])
	assert.Contains(t, err.Error(), "violations")
}
