package pages

import (
	"fmt"
	"html"
)

// Spotify requires both pages to be reachable before an app can leave
// development mode.

const layout = `<!DOCTYPE html>
<html>
<head>
	<title>%[1]s</title>
	<style>
		body {
			font-family: Arial, sans-serif;
			line-height: 1.6;
			max-width: 800px;
			margin: 0 auto;
			padding: 20px;
		}
		pre {
			white-space: pre-wrap;
			word-wrap: break-word;
		}
	</style>
</head>
<body>
	<h1>%[1]s</h1>
	<pre>%[2]s</pre>
</body>
</html>`

const privacyText = `swipetune uses your Spotify account only while you are logged in.

We request access to your profile, playback and playlists so we can recommend tracks and save the ones you like to a playlist in your own library.

Access tokens are kept in memory and dropped when you log out or the server restarts. Your swipes are kept in memory for the same lifetime and are never shared.

If AI suggestions are enabled, the names and artists of tracks you liked are sent to Google Gemini to find similar songs. Nothing else about you is sent.`

const termsText = `swipetune is provided as is, without warranty of any kind.

You may use it to discover music and manage playlists in your own Spotify account. You are responsible for complying with the Spotify Terms of Use while doing so.

We may change or stop the service at any time.`

func render(title, body string) string {
	return fmt.Sprintf(layout, html.EscapeString(title), html.EscapeString(body))
}

func PrivacyPolicy() string {
	return render("Privacy Policy", privacyText)
}

func TermsOfService() string {
	return render("Terms of Service", termsText)
}
