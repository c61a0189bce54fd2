package crx

import (
	"crypto"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"math"

	"xdao.co/crx/keys"
	"xdao.co/crx/tlv"
)

// Magic is the first four bytes of every container.
const Magic = "Cr24"

// Container versions.
const (
	Version2 uint32 = 2
	Version3 uint32 = 3
)

// SignedDataPrefix starts the byte string signed by every version 3 proof.
const SignedDataPrefix = "CRX3 Signed Data\x00"

// Field numbers of the version 3 header.
const (
	FieldSHA256WithRSA    tlv.Number = 2
	FieldSHA256WithECDSA  tlv.Number = 3
	FieldSignedHeaderData tlv.Number = 10000

	// Inside a key proof.
	FieldPublicKey tlv.Number = 1
	FieldSignature tlv.Number = 2

	// Inside signed_header_data.
	FieldCrxID tlv.Number = 1
)

var proofSchema = tlv.Schema{
	FieldPublicKey: {Label: "public_key"},
	FieldSignature: {Label: "signature"},
}

// HeaderSchema labels the known fields of a version 3 header.
var HeaderSchema = tlv.Schema{
	FieldSHA256WithRSA:   {Label: "sha256_with_rsa", Message: proofSchema},
	FieldSHA256WithECDSA: {Label: "sha256_with_ecdsa", Message: proofSchema},
	FieldSignedHeaderData: {Label: "signed_header_data", Message: tlv.Schema{
		FieldCrxID: {Label: "crx_id"},
	}},
}

const (
	v2FixedSize = 16
	v3FixedSize = 12
)

func appendUint32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func length32(n int, what string) (uint32, error) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return 0, newError(KindEncoding, "CRX-ENC-001", fmt.Sprintf("%s length %d does not fit in 32 bits", what, n))
	}
	return uint32(n), nil
}

// BuildV2 returns a version 2 container for archive signed with key.
func BuildV2(key *rsa.PrivateKey, archive []byte) ([]byte, error) {
	pub, err := keys.PublicKeyDER(key)
	if err != nil {
		return nil, wrapError(KindKey, "CRX-KEY-002", "export public key", err)
	}
	sig, err := keys.SignPKCS1v15(key, crypto.SHA1, archive)
	if err != nil {
		return nil, wrapError(KindKey, "CRX-KEY-003", "sign archive", err)
	}
	pubLen, err := length32(len(pub), "public key")
	if err != nil {
		return nil, err
	}
	sigLen, err := length32(len(sig), "signature")
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, v2FixedSize+len(pub)+len(sig)+len(archive))
	out = append(out, Magic...)
	out = appendUint32(out, Version2)
	out = appendUint32(out, pubLen)
	out = appendUint32(out, sigLen)
	out = append(out, pub...)
	out = append(out, sig...)
	out = append(out, archive...)
	return out, nil
}

// EncodeSignedHeaderData returns the signed_header_data message for crxID.
func EncodeSignedHeaderData(crxID []byte) ([]byte, error) {
	b, err := tlv.EncodeField(tlv.BytesField(FieldCrxID, crxID))
	if err != nil {
		return nil, wrapError(KindEncoding, "CRX-ENC-002", "encode signed header data", err)
	}
	return b, nil
}

// SignedData returns the byte string a version 3 proof signs.
func SignedData(signedHeaderData, archive []byte) ([]byte, error) {
	n, err := length32(len(signedHeaderData), "signed header data")
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(SignedDataPrefix)+4+len(signedHeaderData)+len(archive))
	out = append(out, SignedDataPrefix...)
	out = appendUint32(out, n)
	out = append(out, signedHeaderData...)
	out = append(out, archive...)
	return out, nil
}

// EncodeHeaderV3 returns a CrxFileHeader with one sha256_with_rsa proof.
func EncodeHeaderV3(pub, sig, signedHeaderData []byte) ([]byte, error) {
	proof, err := tlv.Marshal(
		tlv.BytesField(FieldPublicKey, pub),
		tlv.BytesField(FieldSignature, sig),
	)
	if err != nil {
		return nil, wrapError(KindEncoding, "CRX-ENC-002", "encode key proof", err)
	}
	header, err := tlv.Marshal(
		tlv.BytesField(FieldSHA256WithRSA, proof),
		tlv.BytesField(FieldSignedHeaderData, signedHeaderData),
	)
	if err != nil {
		return nil, wrapError(KindEncoding, "CRX-ENC-002", "encode file header", err)
	}
	return header, nil
}

// BuildV3 returns a version 3 container for archive signed with key.
func BuildV3(key *rsa.PrivateKey, archive []byte) ([]byte, error) {
	pub, err := keys.PublicKeyDER(key)
	if err != nil {
		return nil, wrapError(KindKey, "CRX-KEY-002", "export public key", err)
	}
	signedHeaderData, err := EncodeSignedHeaderData(keys.DeriveID(pub))
	if err != nil {
		return nil, err
	}
	toSign, err := SignedData(signedHeaderData, archive)
	if err != nil {
		return nil, err
	}
	sig, err := keys.SignPKCS1v15(key, crypto.SHA256, toSign)
	if err != nil {
		return nil, wrapError(KindKey, "CRX-KEY-003", "sign header and archive", err)
	}
	header, err := EncodeHeaderV3(pub, sig, signedHeaderData)
	if err != nil {
		return nil, err
	}
	headerLen, err := length32(len(header), "header")
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, v3FixedSize+len(header)+len(archive))
	out = append(out, Magic...)
	out = appendUint32(out, Version3)
	out = appendUint32(out, headerLen)
	out = append(out, header...)
	out = append(out, archive...)
	return out, nil
}

// Build dispatches to BuildV2 or BuildV3.
func Build(version uint32, key *rsa.PrivateKey, archive []byte) ([]byte, error) {
	switch version {
	case Version2:
		return BuildV2(key, archive)
	case Version3:
		return BuildV3(key, archive)
	default:
		return nil, newError(KindEncoding, "CRX-ENC-003", fmt.Sprintf("unsupported container version %d", version))
	}
}
