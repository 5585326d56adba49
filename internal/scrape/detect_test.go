package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectBlock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		page Page
		want string
	}{
		{name: "results", page: Page{URL: "https://www.linkedin.com/jobs/search/?keywords=go", Body: []byte(`<ul><li class="job-card">x</li></ul>`)}, want: ""},
		{name: "empty body", page: Page{URL: "https://www.linkedin.com/jobs/search/"}, want: ""},
		{name: "authwall", page: Page{URL: "https://www.linkedin.com/authwall?trk=x"}, want: "redirected to /authwall"},
		{name: "login", page: Page{URL: "https://www.linkedin.com/login?session_redirect=%2Fjobs"}, want: "redirected to /login"},
		{name: "challenge", page: Page{Body: []byte(`<form action="/checkpoint/challenge/verify">`)}, want: "challenge page"},
		{name: "shell", page: Page{Body: []byte(`<html><div id="app"></div><script src="a.js"></script><script>boot()</script></html>`)}, want: "script-only shell"},
		{name: "large page with scripts", page: Page{Body: []byte("<script>x</script>" + strings.Repeat("<p>job</p>", 400))}, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, DetectBlock(tc.page))
		})
	}
}

func TestScriptDensityUnclosedTag(t *testing.T) {
	t.Parallel()

	require.True(t, scriptDensityHigh([]byte("<p>hi</p><script")))
	require.False(t, scriptDensityHigh([]byte("<p>plain markup only</p>")))
}
