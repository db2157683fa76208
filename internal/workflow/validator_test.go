package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fancyfn/fancy/internal/types"
)

func TestValidateNilWorkflow(t *testing.T) {
	err := NewValidator(testRegistry(t)).Validate(nil)
	require.Error(t, err)
	assert.Equal(t, types.WORKFLOW_INVALID, types.CodeOf(err))
}

func TestValidateEmptyWorkflow(t *testing.T) {
	assert.NoError(t, NewValidator(testRegistry(t)).Validate(New("empty")))
}

func TestValidateUnknownFunction(t *testing.T) {
	w := New("test")
	w.Append(NewStep("no_such_fn"))

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_fn")
}

func TestValidateUnboundRequiredParameter(t *testing.T) {
	w := New("test")
	s := NewStep("add_five")
	s.Outputs["return"] = types.NewID()
	w.Append(s)

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required parameter "x" is unbound`)
}

func TestValidateOptionalParameterMayBeOmitted(t *testing.T) {
	w := New("test")
	s := NewStep("multiply")
	s.Inputs["x"] = types.NewID()
	s.Outputs["return"] = types.NewID()
	w.Append(s)

	assert.NoError(t, NewValidator(testRegistry(t)).Validate(w))
}

func TestValidateUndeclaredOutput(t *testing.T) {
	w := New("test")
	s := NewStep("add_five")
	s.Inputs["x"] = types.NewID()
	s.Outputs["bogus"] = types.NewID()
	w.Append(s)

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `output "bogus" is not declared`)
}

func TestValidateUndeclaredInputAndConfig(t *testing.T) {
	w := New("test")
	s := NewStep("add_five")
	s.Inputs["x"] = types.NewID()
	s.Inputs["mystery"] = types.NewID()
	s.Config["knob"] = true
	s.Outputs["return"] = types.NewID()
	w.Append(s)

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `input "mystery" is not a parameter`)
	assert.Contains(t, err.Error(), `config "knob" is not a parameter`)
}

func TestValidateDoubleBinding(t *testing.T) {
	w := New("test")
	s := NewStep("multiply")
	s.Inputs["x"] = types.NewID()
	s.Inputs["factor"] = types.NewID()
	s.Config["factor"] = 3
	s.Outputs["return"] = types.NewID()
	w.Append(s)

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `bound as both input and config`)
}

func TestValidateForwardReference(t *testing.T) {
	w := New("test")

	laterOut := types.NewID()

	s1 := NewStep("add_five")
	s1.Inputs["x"] = laterOut
	s1.Outputs["return"] = types.NewID()
	w.Append(s1)

	s2 := NewStep("double")
	s2.Inputs["x"] = s1.Outputs["return"]
	s2.Outputs["return"] = laterOut
	w.Append(s2)

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forward reference")
}

func TestValidateSelfReference(t *testing.T) {
	w := New("test")
	s := NewStep("add_five")
	out := types.NewID()
	s.Inputs["x"] = out
	s.Outputs["return"] = out
	w.Append(s)

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forward reference")
}

func TestValidateBackwardReferenceAllowed(t *testing.T) {
	w := New("test")

	s1 := NewStep("add_five")
	s1.Inputs["x"] = types.NewID() // pre-supplied seed
	s1.Outputs["return"] = types.NewID()
	w.Append(s1)

	s2 := NewStep("double")
	s2.Inputs["x"] = s1.Outputs["return"]
	s2.Outputs["return"] = types.NewID()
	w.Append(s2)

	assert.NoError(t, NewValidator(testRegistry(t)).Validate(w))
}

func TestValidateDuplicateOutputCell(t *testing.T) {
	w := New("test")
	shared := types.NewID()

	s1 := NewStep("add_five")
	s1.Inputs["x"] = types.NewID()
	s1.Outputs["return"] = shared
	w.Append(s1)

	s2 := NewStep("double")
	s2.Inputs["x"] = types.NewID()
	s2.Outputs["return"] = shared
	w.Append(s2)

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already produced by")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	w := New("test")

	s1 := NewStep("no_such_fn")
	w.Append(s1)

	s2 := NewStep("add_five")
	s2.Outputs["return"] = types.NewID()
	w.Append(s2)

	err := NewValidator(testRegistry(t)).Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 problem(s)")
}
