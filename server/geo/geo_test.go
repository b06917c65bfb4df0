package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLoc(t *testing.T) {
	lat, lon, err := ParseLoc("-33.9249,18.4241")
	require.NoError(t, err)
	require.Equal(t, -33.9249, lat)
	require.Equal(t, 18.4241, lon)

	for _, bad := range []string{"", "1", "a,b", "1,2,3"} {
		_, _, err = ParseLoc(bad)
		require.Error(t, err, bad)
	}
}

func TestIPInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.Write([]byte(`{"ip": "1.2.3.4", "city": "Cape Town", "loc": "-33.9249,18.4241"}`))
		case "/cam.example.com/json":
			w.Write([]byte(`{"ip": "5.6.7.8", "city": "Paris", "loc": "48.8534,2.3488"}`))
		case "/192.168.1.10/json":
			w.Write([]byte(`{"ip": "192.168.1.10", "bogon": true}`))
		default:
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	g := NewIPInfo()
	g.BaseURL = srv.URL
	ctx := context.Background()

	loc, err := g.Lookup(ctx, "me")
	require.NoError(t, err)
	require.Equal(t, &Location{City: "Cape Town", Lat: -33.9249, Lon: 18.4241}, loc)

	loc, err = g.Lookup(ctx, "cam.example.com")
	require.NoError(t, err)
	require.Equal(t, "Paris", loc.City)

	_, err = g.Lookup(ctx, "192.168.1.10")
	require.ErrorContains(t, err, "private")

	_, err = g.Lookup(ctx, "8.8.8.8")
	require.ErrorContains(t, err, "429")
}
