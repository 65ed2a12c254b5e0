// Package keys resolves LUKS passphrases for encrypted targets.
//
// A target's retrieval mode is persisted as marker files in its directory:
// .strict_keys selects remote-only resolution, .use_keyserver selects
// remote-first with an optional local fallback, and no marker reads the
// local passphrase file. Resolved passphrases are held in memguard locked
// buffers and handed to cryptsetup on stdin.
package keys
