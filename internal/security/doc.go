// Package security summarizes the effective security posture of an engine
// configuration so operators can log or export it at startup.
package security
