// Package zuliprc resolves client configuration from command-line flags,
// ZULIP_* environment variables and a zuliprc INI file, in that order of
// precedence.
//
// A zuliprc file holds an [api] section:
//
//	[api]
//	email=bot@example.com
//	key=abcdef0123456789
//	site=https://chat.example.com
//	# optional
//	cert_bundle=/etc/ssl/chat-ca.pem
//	client_cert=~/certs/bot.pem
//	client_cert_key=~/certs/bot.key
//	insecure=false
//
// The file defaults to ~/.zuliprc and can be moved with --config-file or
// ZULIP_CONFIG. Recognized environment variables are ZULIP_EMAIL,
// ZULIP_API_KEY, ZULIP_SITE, ZULIP_CERT, ZULIP_CERT_KEY, ZULIP_CERT_BUNDLE,
// ZULIP_ALLOW_INSECURE and ZULIP_CLIENT.
package zuliprc
