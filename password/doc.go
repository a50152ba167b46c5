// Package password hashes and verifies credentials.
//
// # Output format
//
// New digests are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt digests ($2a$, $2b$, $2y$) still verify, and
// [Hasher.NeedsUpgrade] reports them (and argon2id digests produced with
// weaker parameters) so the caller can rehash after a successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length,
// reuse) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other authcore package.
//   - Log plaintext passwords or digests.
package password
