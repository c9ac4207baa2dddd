package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cartpry/pentestorch/errs"
)

func TestConstraints_Normalize_Defaults(t *testing.T) {
	c, err := Constraints{}.Normalize()
	require.NoError(t, err)
	require.Equal(t, EnvDevelopment, c.Environment)
	require.NotNil(t, c.ExcludeTests)
}

func TestConstraints_Normalize_RejectsUnknownEnvironment(t *testing.T) {
	_, err := Constraints{Environment: "staging-ish"}.Normalize()
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "environment", verr.Field)
}

func TestConstraints_Normalize_RejectsNegativeValues(t *testing.T) {
	_, err := Constraints{TimeLimit: -time.Second}.Normalize()
	require.Error(t, err)

	_, err = Constraints{MinTestsPerPhase: -1}.Normalize()
	require.Error(t, err)
}

func TestConstraints_Excludes(t *testing.T) {
	c := Constraints{ExcludeTests: map[string]struct{}{"sqlmap": {}}}
	require.True(t, c.Excludes("sqlmap"))
	require.False(t, c.Excludes("port-scanner"))
}

func TestConstraints_InScope(t *testing.T) {
	t.Run("empty scope is unrestricted", func(t *testing.T) {
		require.True(t, Constraints{}.InScope("anything.test"))
	})

	t.Run("wildcard subdomain pattern", func(t *testing.T) {
		c := Constraints{Scope: []string{"*.example.test"}}
		require.True(t, c.InScope("https://api.example.test/path"))
		require.True(t, c.InScope("example.test"))
		require.False(t, c.InScope("example.org"))
	})

	t.Run("substring pattern", func(t *testing.T) {
		c := Constraints{Scope: []string{"example.test"}}
		require.True(t, c.InScope("example.test"))
		require.False(t, c.InScope("other.test"))
	})
}

func TestValidateTarget(t *testing.T) {
	require.NoError(t, ValidateTarget("example.test"))
	require.NoError(t, ValidateTarget("https://example.test/app"))
	require.Error(t, ValidateTarget(""))
	require.Error(t, ValidateTarget("https://"))
	require.Error(t, ValidateTarget("example.test/has space"))
}
