/*
Package security seals local passphrase copies.

When the key policy allows a local backup copy of a remotely stored
passphrase, and a seal password is configured, the copy is written through
Sealer: AES-256-GCM with a random nonce, armored as

	SBE-SEALED:v1:<base64(nonce || ciphertext)>

so a stolen backup disk does not carry a usable passphrase next to the
image. The key derives from the seal password with SHA-256. Plain
passphrase files (legacy hosts) are recognized by the missing prefix.
*/
package security
