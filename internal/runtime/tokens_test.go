package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestKeyringTokensRoundTrip(t *testing.T) {
	store := NewKeyringTokens(keyring.NewArrayKeyring(nil))

	_, err := store.Load("me")
	require.ErrorIs(t, err, ErrNoToken)

	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save("me", &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: expiry}))

	tok, err := store.Load("me")
	require.NoError(t, err)
	require.Equal(t, "a", tok.AccessToken)
	require.Equal(t, "r", tok.RefreshToken)
	require.True(t, tok.Expiry.Equal(expiry))

	require.NoError(t, store.Delete("me"))
	require.NoError(t, store.Delete("me"))
	_, err = store.Load("me")
	require.ErrorIs(t, err, ErrNoToken)
}

type stubSource struct {
	tok *oauth2.Token
	err error
}

func (s stubSource) Token() (*oauth2.Token, error) { return s.tok, s.err }

func TestPersistingTokenSourceSavesRefresh(t *testing.T) {
	store := NewKeyringTokens(keyring.NewArrayKeyring(nil))
	ts := &persistingTokenSource{
		base:  stubSource{tok: &oauth2.Token{AccessToken: "new", RefreshToken: "r"}},
		store: store,
		key:   "me",
		last:  "old",
	}
	tok, err := ts.Token()
	require.NoError(t, err)
	require.Equal(t, "new", tok.AccessToken)

	saved, err := store.Load("me")
	require.NoError(t, err)
	require.Equal(t, "new", saved.AccessToken)

	failing := &persistingTokenSource{base: stubSource{err: errors.New("revoked")}, store: store, key: "me"}
	_, err = failing.Token()
	require.Error(t, err)
}
