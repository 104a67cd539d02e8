// Package knoxcrypt implements an encrypted single-file virtual filesystem:
// a user-space container image that, given a host path and a password,
// exposes a hierarchical namespace of files and folders living entirely
// inside one host file.
//
// # Overview
//
// The image is a flat array of fixed-size blocks preceded by a superblock
// and an allocation bitmap. Every byte beyond the first nine bytes of the
// host file is ciphertext: a counter-mode stream built over a 64-bit block
// cipher, keyed from the caller's password via scrypt. Files and folders
// are both represented internally as chains of blocks; a folder additionally
// packs fixed-width metadata entries into its chain's payload, and a folder
// spreads its entries over further buckets once its first bucket has used
// all ContentSize (50) entry slots.
//
// # Basic usage
//
//	safe, err := knoxcrypt.CreateImage(&knoxcrypt.Config{
//	    Path:     "/tmp/vault.img",
//	    Password: []byte("a password"),
//	    Blocks:   2048,
//	})
//	if err != nil {
//	    panic(err)
//	}
//	defer safe.Close()
//
//	if err := safe.AddFile("/hello.txt"); err != nil {
//	    panic(err)
//	}
//	f, err := safe.OpenFile("/hello.txt", knoxcrypt.OpenDisposition{Access: knoxcrypt.ReadWrite})
//	if err != nil {
//	    panic(err)
//	}
//	f.Write([]byte("Hello, world!"))
//
// # On-disk format
//
// Bytes 0..7 are the IV (big-endian uint64, plaintext). Byte 8 is the cipher
// round count (plaintext). Everything from byte 9 onward — the block count,
// the allocation bitmap, and the block area — is ciphertext. See layout.go
// for the exact offsets.
//
// # What this package does not do
//
// No multi-host replication, no journalling or crash-consistent
// transactions, no hole punching, no hard links, no permission bits, no
// extended attributes, no case-insensitive lookup. A production deployment
// mounting this image through a filesystem driver is expected to serialise
// calls into one *TeaSafe with a mutex; the core itself is not
// concurrency-safe.
package knoxcrypt
