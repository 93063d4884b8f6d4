package http

import (
	"net/http"

	"github.com/stafflane/stafflane/pkg/httpx"
	"github.com/stafflane/stafflane/pkg/jwtx"
)

// JWKSHandler exposes the JSON Web Key Set so other Stafflane services can
// verify session tokens locally.
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, keys.PublicJWKS())
	}
}
