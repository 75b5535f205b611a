package etl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/domain"
	"notionsync/internal/etl"
)

func TestParseTransformOp(t *testing.T) {
	op, err := etl.ParseTransformOp("  Lowercase ")
	require.NoError(t, err)
	assert.Equal(t, etl.OpLowercase, op)

	_, err = etl.ParseTransformOp("exec")
	assert.Error(t, err)
	assert.Contains(t, etl.TransformOps(), "date_only")
}

func TestBuildTransformers_RequiresField(t *testing.T) {
	_, err := etl.BuildTransformers([]domain.FieldTransform{{Op: "trim"}})
	assert.Error(t, err)

	_, err = etl.BuildTransformers([]domain.FieldTransform{{Field: "Name", Op: "shout"}})
	assert.ErrorContains(t, err, `field "Name"`)
}

func TestApplyTransformers_ChainsInOrder(t *testing.T) {
	chains, err := etl.BuildTransformers([]domain.FieldTransform{
		{Field: "Name", Op: "trim"},
		{Field: "Name", Op: "uppercase"},
		{Field: "Tags", Op: "join"},
		{Field: "Owners", Op: "count"},
		{Field: "Due", Op: "date_only"},
		{Field: "Secret", Op: "drop"},
		{Field: "Score", Op: "to_number"},
		{Field: "Done", Op: "to_bool"},
	})
	require.NoError(t, err)

	out := etl.ApplyTransformers(map[string]domain.Value{
		"Name":   domain.Text("  ada "),
		"Tags":   domain.List(domain.Text("a"), domain.Null(), domain.Text("b")),
		"Owners": domain.List(domain.Text("u1"), domain.Text("u2")),
		"Due":    domain.Text("2024-05-06T07:08:09Z"),
		"Secret": domain.Text("x"),
		"Score":  domain.Text("4.5"),
		"Done":   domain.Text("yes"),
		"Other":  domain.Int(1),
	}, chains)

	assert.Equal(t, "ADA", out["Name"].String())
	assert.Equal(t, "a, b", out["Tags"].String())
	assert.True(t, domain.Int(2).Equal(out["Owners"]))
	assert.Equal(t, "2024-05-06", out["Due"].String())
	assert.NotContains(t, out, "Secret")
	assert.True(t, domain.Float(4.5).Equal(out["Score"]))
	assert.True(t, domain.Bool(true).Equal(out["Done"]))
	assert.True(t, domain.Int(1).Equal(out["Other"]))
}

func TestTransforms_LeaveOtherKindsAlone(t *testing.T) {
	chains, err := etl.BuildTransformers([]domain.FieldTransform{
		{Field: "N", Op: "lowercase"},
		{Field: "L", Op: "first"},
		{Field: "E", Op: "first"},
		{Field: "C", Op: "count"},
	})
	require.NoError(t, err)

	out := etl.ApplyTransformers(map[string]domain.Value{
		"N": domain.Int(3),
		"L": domain.List(domain.Text("x"), domain.Text("y")),
		"E": domain.List(),
		"C": domain.Null(),
	}, chains)
	assert.True(t, domain.Int(3).Equal(out["N"]))
	assert.Equal(t, "x", out["L"].String())
	assert.True(t, out["E"].IsNull())
	assert.True(t, domain.Int(0).Equal(out["C"]))
}
