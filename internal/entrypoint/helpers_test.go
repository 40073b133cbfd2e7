package entrypoint

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cozmonaut/cozmonaut/internal/httputil"
)

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func getJSON(c *http.Client, url string, v any) error {
	return httputil.GetJSON(context.Background(), httputil.NewStandardClient(c), url, v)
}
