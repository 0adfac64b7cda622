package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCensor(t *testing.T, words ...string) *Censor {
	t.Helper()
	censor, err := NewCensor(words, '*')
	require.NoError(t, err)
	return censor
}

func TestCensor_MasksPlainMatch(t *testing.T) {
	req := require.New(t)
	censor := newTestCensor(t, "badword")

	req.Equal("what a *******", censor.Apply("what a badword"))
}

func TestCensor_LeavesCleanContentUntouched(t *testing.T) {
	req := require.New(t)
	censor := newTestCensor(t, "badword")

	content := "perfectly fine sentence"
	req.Equal(content, censor.Apply(content))
}

func TestCensor_CaseInsensitive(t *testing.T) {
	req := require.New(t)
	censor := newTestCensor(t, "badword")

	req.Equal("*******!", censor.Apply("BadWord!"))
}

func TestCensor_FoldsLeetSubstitutions(t *testing.T) {
	req := require.New(t)
	censor := newTestCensor(t, "badword")

	req.Equal("*******", censor.Apply("b4dw0rd"))
}

func TestCensor_MatchAcrossSpacingAndPunctuation(t *testing.T) {
	req := require.New(t)
	censor := newTestCensor(t, "badword")

	// Characters inserted to evade the filter are masked with the match
	req.Equal("********", censor.Apply("bad-word"))
}

func TestCensor_MultipleMatches(t *testing.T) {
	req := require.New(t)
	censor := newTestCensor(t, "badword", "worse")

	req.Equal("******* and *****", censor.Apply("badword and worse"))
}

func TestCensor_EmptyContent(t *testing.T) {
	req := require.New(t)
	censor := newTestCensor(t, "badword")

	req.Equal("", censor.Apply(""))
	req.Equal("   ", censor.Apply("   "))
}

func TestDefaultCensor_EmbeddedList(t *testing.T) {
	req := require.New(t)
	censor, err := DefaultCensor('*')
	req.NoError(err)

	req.Equal("that is ******", censor.Apply("that is stupid"))
}
