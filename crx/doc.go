// Package crx builds and parses signed browser extension containers.
//
// Two container generations are supported. Both start with the 4-byte magic
// "Cr24" followed by a little-endian uint32 version, and both end with the ZIP
// archive of the extension. All integers are little-endian uint32 and nothing
// follows the archive.
//
// Version 2:
//
//	magic | 2 | pubkey_len | sig_len | pubkey | signature | archive
//
// The signature is RSASSA-PKCS1-v1_5 with SHA-1 over the archive bytes. SHA-1
// is what version 2 consumers verify; it is kept for them and nothing else.
//
// Version 3:
//
//	magic | 3 | header_len | header | archive
//
// header is a protobuf-encoded CrxFileHeader:
//
//	2     sha256_with_rsa     { 1 public_key, 2 signature }  (repeated)
//	3     sha256_with_ecdsa   { 1 public_key, 2 signature }  (repeated)
//	10000 signed_header_data  { 1 crx_id }
//
// crx_id is the first 16 bytes of sha256(public_key). Each signature covers
//
//	"CRX3 Signed Data" 0x00 | len(signed_header_data) | signed_header_data | archive
//
// Packing writes a single sha256_with_rsa proof. Parsing accepts any number of
// proofs and reports unknown fields without rejecting them.
package crx
