package access

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer("https://cdn.example.com/content/", "secret", 15*time.Minute)
	require.NoError(t, err)
	iss.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return iss
}

func tokenOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestIssueAndVerify(t *testing.T) {
	iss := newTestIssuer(t)

	grant, err := iss.Issue(context.Background(), "posts/a b.jpg", 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(grant.URL, "https://cdn.example.com/content/posts%2Fa%20b.jpg?token="))
	require.Equal(t, time.Unix(1_700_000_000, 0).Add(15*time.Minute), grant.ExpiresAt)

	ref, err := iss.Verify(tokenOf(t, grant.URL))
	require.NoError(t, err)
	require.Equal(t, "posts/a b.jpg", ref)
}

func TestIssueProducesDistinctURLs(t *testing.T) {
	iss := newTestIssuer(t)

	a, err := iss.Issue(context.Background(), "posts/x.jpg", time.Minute)
	require.NoError(t, err)
	b, err := iss.Issue(context.Background(), "posts/x.jpg", time.Minute)
	require.NoError(t, err)

	require.NotEqual(t, a.URL, b.URL)
	require.Equal(t, a.ExpiresAt, b.ExpiresAt)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	iss := newTestIssuer(t)
	grant, err := iss.Issue(context.Background(), "posts/x.jpg", time.Minute)
	require.NoError(t, err)
	token := tokenOf(t, grant.URL)

	iss.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0).Add(2 * time.Minute) }
	_, err = iss.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewIssuer("https://cdn.example.com", "other-secret", time.Minute)
	require.NoError(t, err)
	other.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }
	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueErrors(t *testing.T) {
	iss := newTestIssuer(t)

	_, err := iss.Issue(context.Background(), "", time.Minute)
	require.ErrorIs(t, err, ErrEmptyRef)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = iss.Issue(ctx, "posts/x.jpg", time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewIssuerValidation(t *testing.T) {
	_, err := NewIssuer("", "k", time.Minute)
	require.Error(t, err)
	_, err = NewIssuer("https://x", "", time.Minute)
	require.Error(t, err)
	_, err = NewIssuer("https://x", "k", 0)
	require.Error(t, err)
}
