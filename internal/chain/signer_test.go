package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignerSign(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sign", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req SignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, int64(8453), req.ChainID)
		require.Equal(t, uint64(7), req.Nonce)

		json.NewEncoder(w).Encode(map[string]string{"rawTransaction": "0xsigned"})
	}))
	defer srv.Close()

	s := NewSigner(srv.URL, "secret", "0x00000000000000000000000000000000000000aa")
	raw, err := s.Sign(context.Background(), SignRequest{ChainID: 8453, To: testRegistry, Nonce: 7, Data: "0x"})
	require.NoError(t, err)
	require.Equal(t, "0xsigned", raw)
}

func TestSignerSignErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSigner(srv.URL, "wrong", "0x00000000000000000000000000000000000000aa")
	_, err := s.Sign(context.Background(), SignRequest{})
	var signerErr *SignerError
	require.ErrorAs(t, err, &signerErr)
	require.Equal(t, http.StatusUnauthorized, signerErr.Status)
	require.Equal(t, "bad key", signerErr.Body)
}

func TestSignerSignRejectsEmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	s := NewSigner(srv.URL, "secret", "0x00000000000000000000000000000000000000aa")
	_, err := s.Sign(context.Background(), SignRequest{})
	require.Error(t, err)
}
