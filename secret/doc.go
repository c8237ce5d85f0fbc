// Package secret resolves credentials referenced from configuration.
//
// The PUBG API key and the dashboard credentials must not sit in plain
// configuration. A value may instead reference a secret:
//
//	HAWK_PUBG_API_KEY=secretref:file:/run/secrets/pubg_api_key
//	HAWK_JWT_SECRET=secretref:env:DASHBOARD_JWT_SECRET
//
// A [Resolver] expands ${VAR} strictly (see [ExpandEnvStrict]) and then
// hands every secretref:<provider>:<ref> to the named [Provider]. The
// built-in providers are "env" and "file"; others can be added through a
// [Registry].
package secret
