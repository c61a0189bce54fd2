package crx

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"xdao.co/crx/archive"
	"xdao.co/crx/keys"
	"xdao.co/crx/tlv"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

func fixedKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = keys.Generate(rand.Reader)
	})
	if testKeyErr != nil {
		t.Fatalf("Generate: %v", testKeyErr)
	}
	return testKey
}

func fixedKeyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extension.pem")
	if err := keys.Save(path, fixedKey(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func sourceDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return dir
}

func expectRule(t *testing.T, err error, kind Kind, ruleID string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error %s, got nil", kind, ruleID)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected structured *crx.Error, got %T: %v", err, err)
	}
	if e.Kind != kind {
		t.Fatalf("expected Kind%s, got %s (%v)", kind, e.Kind, err)
	}
	if ruleID != "" && e.RuleID != ruleID {
		t.Fatalf("expected RuleID %s, got %s (%v)", ruleID, e.RuleID, err)
	}
}

func TestBuildV3_ParseVerify(t *testing.T) {
	key := fixedKey(t)
	zipped := []byte("PK\x05\x06not really a zip but opaque here")

	out, err := BuildV3(key, zipped)
	if err != nil {
		t.Fatalf("BuildV3: %v", err)
	}
	c, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Version != Version3 || c.V3 == nil {
		t.Fatalf("expected version 3 header, got %+v", c)
	}
	if !bytes.Equal(c.Archive, zipped) {
		t.Fatalf("archive mismatch")
	}
	if c.ArchiveOffset != 12+c.V3.Length || c.Size != len(out) {
		t.Fatalf("offset bookkeeping mismatch: offset=%d header=%d size=%d", c.ArchiveOffset, c.V3.Length, c.Size)
	}

	pub, _ := keys.PublicKeyDER(key)
	if !bytes.Equal(c.V3.CrxID, keys.DeriveID(pub)) {
		t.Fatalf("crx_id does not match sha256(pub)[:16]")
	}
	if len(c.V3.Proofs) != 1 || c.V3.Proofs[0].Algorithm != SHA256WithRSA {
		t.Fatalf("expected one sha256_with_rsa proof, got %+v", c.V3.Proofs)
	}
	if !bytes.Equal(c.V3.Proofs[0].PublicKey, pub) {
		t.Fatalf("embedded public key mismatch")
	}

	// Check the signature by hand against the documented signing input.
	var signed bytes.Buffer
	signed.WriteString("CRX3 Signed Data")
	signed.WriteByte(0)
	_ = binary.Write(&signed, binary.LittleEndian, uint32(len(c.V3.SignedHeaderData)))
	signed.Write(c.V3.SignedHeaderData)
	signed.Write(zipped)
	rsaPub, err := keys.ParsePublicKeyDER(c.V3.Proofs[0].PublicKey)
	if err != nil {
		t.Fatalf("ParsePublicKeyDER: %v", err)
	}
	if err := keys.VerifyPKCS1v15(rsaPub, crypto.SHA256, signed.Bytes(), c.V3.Proofs[0].Signature); err != nil {
		t.Fatalf("signature does not verify over documented input: %v", err)
	}

	if err := Verify(c); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.ExtensionID() != keys.ExtensionID(pub) {
		t.Fatalf("extension id mismatch")
	}
}

func TestEncodeSignedHeaderData_Layout(t *testing.T) {
	id := bytes.Repeat([]byte{0xab}, 16)
	b, err := EncodeSignedHeaderData(id)
	if err != nil {
		t.Fatalf("EncodeSignedHeaderData: %v", err)
	}
	want := append([]byte{0x0a, 0x10}, id...)
	if !bytes.Equal(b, want) {
		t.Fatalf("got %x want %x", b, want)
	}
}

func TestBuildV2_SizeInvariant(t *testing.T) {
	key := fixedKey(t)
	zipped := bytes.Repeat([]byte{0x42}, 333)
	out, err := BuildV2(key, zipped)
	if err != nil {
		t.Fatalf("BuildV2: %v", err)
	}
	if string(out[:4]) != Magic || binary.LittleEndian.Uint32(out[4:]) != 2 {
		t.Fatalf("bad fixed header %x", out[:8])
	}
	c, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Version != Version2 || c.V2 == nil {
		t.Fatalf("expected version 2 header")
	}
	if got := 16 + len(c.V2.PublicKey) + len(c.V2.Signature) + len(c.Archive); got != len(out) {
		t.Fatalf("size invariant: %d != %d", got, len(out))
	}
	if c.V2.PublicKeyOffset != 16 || c.V2.SignatureOffset != 16+len(c.V2.PublicKey) {
		t.Fatalf("unexpected offsets %+v", c.V2)
	}
	if !bytes.Equal(c.Archive, zipped) {
		t.Fatalf("archive mismatch")
	}
	if err := Verify(c); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	tampered := append([]byte(nil), out...)
	tampered[len(tampered)-1] ^= 0xff
	c2, err := Parse(tampered)
	if err != nil {
		t.Fatalf("Parse tampered: %v", err)
	}
	expectRule(t, Verify(c2), KindVerify, "CRX-VER-005")
}

func TestPack_ManifestScenario(t *testing.T) {
	manifest := `{"manifest_version":` // 20 bytes
	if len(manifest) != 20 {
		t.Fatalf("fixture must be 20 bytes, got %d", len(manifest))
	}
	src := sourceDir(t, map[string]string{"manifest.json": manifest})
	wantArchive, err := archive.Directory(src)
	if err != nil {
		t.Fatalf("archive.Directory: %v", err)
	}

	out := filepath.Join(t.TempDir(), "ext.crx")
	res, err := Pack(src, out, fixedKeyFile(t))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if res.KeyCreated {
		t.Fatalf("existing key must be reused")
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if want := []byte("Cr24\x03\x00\x00\x00"); !bytes.Equal(data[:8], want) {
		t.Fatalf("first 8 bytes: got %x want %x", data[:8], want)
	}

	c, err := ParseFile(out)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if c.Version != 3 {
		t.Fatalf("expected version 3, got %d", c.Version)
	}
	if len(c.Archive) != len(wantArchive) || !bytes.Equal(c.Archive, wantArchive) {
		t.Fatalf("archive length %d, want %d", len(c.Archive), len(wantArchive))
	}
	if res.ArchiveSize != len(wantArchive) || res.Size != len(data) {
		t.Fatalf("result sizes mismatch: %+v", res)
	}
	got, err := archive.ReadFile(c.Archive, "manifest.json")
	if err != nil || string(got) != manifest {
		t.Fatalf("manifest round trip failed: %q %v", got, err)
	}
}

func TestPack_Deterministic(t *testing.T) {
	src := sourceDir(t, map[string]string{
		"manifest.json": `{"name":"n","version":"1.0"}`,
		"js/popup.js":   "console.log(1)",
	})
	keyPath := fixedKeyFile(t)
	outDir := t.TempDir()

	for _, v := range []uint32{Version2, Version3} {
		p := Packer{KeyPath: keyPath, Version: v}
		a := filepath.Join(outDir, "a.crx")
		b := filepath.Join(outDir, "b.crx")
		if _, err := p.Pack(src, a); err != nil {
			t.Fatalf("Pack v%d: %v", v, err)
		}
		if _, err := p.Pack(src, b); err != nil {
			t.Fatalf("Pack v%d: %v", v, err)
		}
		da, _ := os.ReadFile(a)
		db, _ := os.ReadFile(b)
		if !bytes.Equal(da, db) {
			t.Fatalf("v%d output differs between runs", v)
		}
		if binary.LittleEndian.Uint32(da[4:]) != v {
			t.Fatalf("expected version %d on disk", v)
		}
	}
}

func TestPack_GeneratesKey(t *testing.T) {
	src := sourceDir(t, map[string]string{"manifest.json": "{}"})
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "new.pem")

	res, err := Pack(src, filepath.Join(dir, "out.crx"), keyPath)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if !res.KeyCreated {
		t.Fatalf("expected key creation")
	}
	key, err := keys.Load(keyPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pub, _ := keys.PublicKeyDER(key)
	if res.ExtensionID != keys.ExtensionID(pub) {
		t.Fatalf("extension id does not match persisted key")
	}
}

func TestPack_Failures(t *testing.T) {
	src := sourceDir(t, map[string]string{"manifest.json": "{}"})
	keyPath := fixedKeyFile(t)

	t.Run("missing source", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.crx")
		_, err := Pack(filepath.Join(t.TempDir(), "nope"), out, keyPath)
		expectRule(t, err, KindIO, "CRX-IO-001")
		if _, serr := os.Stat(out); !os.IsNotExist(serr) {
			t.Fatalf("output must not exist after failure")
		}
	})

	t.Run("corrupt key", func(t *testing.T) {
		dir := t.TempDir()
		bad := filepath.Join(dir, "bad.pem")
		if err := os.WriteFile(bad, []byte("garbage"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		out := filepath.Join(dir, "out.crx")
		_, err := Pack(src, out, bad)
		expectRule(t, err, KindKey, "CRX-KEY-001")
		if !errors.Is(err, keys.ErrInvalidKey) {
			t.Fatalf("expected keys.ErrInvalidKey in chain")
		}
		if _, serr := os.Stat(out); !os.IsNotExist(serr) {
			t.Fatalf("output must not exist after failure")
		}
	})

	t.Run("unwritable output", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "missing-dir", "out.crx")
		_, err := Pack(src, out, keyPath)
		expectRule(t, err, KindIO, "CRX-IO-002")
	})

	t.Run("bad version", func(t *testing.T) {
		_, err := Packer{KeyPath: keyPath, Version: 4}.Pack(src, filepath.Join(t.TempDir(), "o.crx"))
		expectRule(t, err, KindEncoding, "CRX-ENC-003")
	})
}

func TestWriteFileAtomic_NoLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.crx")
	if err := WriteFileAtomic(path, []byte("one")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "two" {
		t.Fatalf("got %q", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the output file, found %d entries", len(entries))
	}
}

func TestParse_FormatErrors(t *testing.T) {
	v3 := func(headerLen uint32, rest []byte) []byte {
		b := []byte("Cr24")
		b = binary.LittleEndian.AppendUint32(b, 3)
		b = binary.LittleEndian.AppendUint32(b, headerLen)
		return append(b, rest...)
	}
	v2 := func(pubLen, sigLen uint32, rest []byte) []byte {
		b := []byte("Cr24")
		b = binary.LittleEndian.AppendUint32(b, 2)
		b = binary.LittleEndian.AppendUint32(b, pubLen)
		b = binary.LittleEndian.AppendUint32(b, sigLen)
		return append(b, rest...)
	}

	cases := []struct {
		name string
		data []byte
		rule string
	}{
		{"empty", nil, "CRX-FMT-003"},
		{"bad magic", []byte("PK\x03\x04\x03\x00\x00\x00"), "CRX-FMT-001"},
		{"magic only", []byte("Cr24"), "CRX-FMT-003"},
		{"unsupported version", []byte("Cr24\x04\x00\x00\x00"), "CRX-FMT-002"},
		{"v3 missing header length", []byte("Cr24\x03\x00\x00\x00\x01"), "CRX-FMT-003"},
		{"v3 header beyond end", v3(100, []byte{0x12, 0x00}), "CRX-FMT-004"},
		{"v3 header length max", v3(0xffffffff, nil), "CRX-FMT-004"},
		{"v3 malformed tlv", v3(2, []byte{0x12, 0x05}), "CRX-FMT-005"},
		{"v3 bad varint", v3(1, []byte{0x80}), "CRX-FMT-005"},
		{"v2 missing lengths", []byte("Cr24\x02\x00\x00\x00\x01\x00\x00\x00"), "CRX-FMT-003"},
		{"v2 pubkey beyond end", v2(10, 0, []byte{1, 2}), "CRX-FMT-004"},
		{"v2 signature beyond end", v2(1, 10, []byte{1, 2}), "CRX-FMT-004"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.data)
			expectRule(t, err, KindFormat, tc.rule)
		})
	}
}

func TestParse_V3EmptyHeaderAndArchive(t *testing.T) {
	c, err := Parse([]byte("Cr24\x03\x00\x00\x00\x00\x00\x00\x00"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.V3 == nil || c.V3.Length != 0 || len(c.Archive) != 0 {
		t.Fatalf("unexpected container %+v", c)
	}
	expectRule(t, Verify(c), KindVerify, "CRX-VER-006")
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "none.crx"))
	expectRule(t, err, KindIO, "CRX-IO-003")
}

// buildV3Custom assembles a version 3 container from explicit header fields.
func buildV3Custom(t *testing.T, header, zipped []byte) []byte {
	t.Helper()
	out := []byte(Magic)
	out = binary.LittleEndian.AppendUint32(out, 3)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(header)))
	out = append(out, header...)
	return append(out, zipped...)
}

func signedProof(t *testing.T, key *rsa.PrivateKey, signedHeaderData, zipped []byte) []byte {
	t.Helper()
	pub, _ := keys.PublicKeyDER(key)
	toSign, err := SignedData(signedHeaderData, zipped)
	if err != nil {
		t.Fatalf("SignedData: %v", err)
	}
	sig, err := keys.SignPKCS1v15(key, crypto.SHA256, toSign)
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}
	proof, err := tlv.Marshal(tlv.BytesField(FieldPublicKey, pub), tlv.BytesField(FieldSignature, sig))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return proof
}

func TestParse_UnknownFieldsReported(t *testing.T) {
	key := fixedKey(t)
	zipped := []byte("zip-bytes")
	pub, _ := keys.PublicKeyDER(key)
	signedHeaderData, _ := EncodeSignedHeaderData(keys.DeriveID(pub))
	proof := signedProof(t, key, signedHeaderData, zipped)

	header, err := tlv.Marshal(
		tlv.BytesField(FieldSHA256WithRSA, proof),
		tlv.VarintField(7, 99),
		tlv.BytesField(50, bytes.Repeat([]byte{0xcd}, 40)),
		tlv.BytesField(FieldSignedHeaderData, signedHeaderData),
	)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	c, err := Parse(buildV3Custom(t, header, zipped))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.V3.Fields) != 4 {
		t.Fatalf("expected 4 top-level fields, got %d", len(c.V3.Fields))
	}
	if err := Verify(c); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	var buf bytes.Buffer
	if err := Describe(&buf, c); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	report := buf.String()
	for _, want := range []string{
		"Version: 3",
		"Field 2 sha256_with_rsa",
		"Field 1 public_key",
		"Field 2 signature (len 256)",
		"Field 10000 signed_header_data (len 18)",
		"Field 1 crx_id: " + hex.EncodeToString(keys.DeriveID(pub)),
		"Field 7 (varint): 99",
		"Field 50 (len 40): cdcdcdcdcdcdcdcdcdcd...",
		"Archive: offset",
		"Extension ID: " + keys.ExtensionID(pub),
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}

	s := Summarize(c)
	js, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if !strings.Contains(string(js), `"label":"signed_header_data"`) || !strings.Contains(string(js), `"number":50`) {
		t.Fatalf("summary missing fields: %s", js)
	}
	if s.V3.Fields[0].Offset != 12 {
		t.Fatalf("first field offset should be absolute 12, got %d", s.V3.Fields[0].Offset)
	}
}

func TestSummarize_EmptyFieldKeepsLength(t *testing.T) {
	key := fixedKey(t)
	zipped := []byte("zip-bytes")
	pub, _ := keys.PublicKeyDER(key)
	signedHeaderData, _ := EncodeSignedHeaderData(keys.DeriveID(pub))
	proof := signedProof(t, key, signedHeaderData, zipped)

	header, err := tlv.Marshal(
		tlv.BytesField(FieldSHA256WithRSA, proof),
		tlv.BytesField(60, nil),
		tlv.BytesField(FieldSignedHeaderData, signedHeaderData),
	)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	c, err := Parse(buildV3Custom(t, header, zipped))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	js, err := json.Marshal(Summarize(c))
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var raw struct {
		V3 struct {
			Fields []map[string]any `json:"fields"`
		} `json:"v3"`
	}
	if err := json.Unmarshal(js, &raw); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if len(raw.V3.Fields) != 3 {
		t.Fatalf("expected 3 fields: %s", js)
	}
	empty := raw.V3.Fields[1]
	if empty["number"] != float64(60) || empty["length"] != float64(0) {
		t.Fatalf("empty field lost its length: %v", empty)
	}
}

func TestVerify_V3Failures(t *testing.T) {
	key := fixedKey(t)
	zipped := []byte("zip-bytes")
	pub, _ := keys.PublicKeyDER(key)

	t.Run("tampered archive", func(t *testing.T) {
		out, err := BuildV3(key, zipped)
		if err != nil {
			t.Fatalf("BuildV3: %v", err)
		}
		out[len(out)-1] ^= 0x01
		c, err := Parse(out)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		expectRule(t, Verify(c), KindVerify, "CRX-VER-002")
	})

	t.Run("crx_id mismatch", func(t *testing.T) {
		signedHeaderData, _ := EncodeSignedHeaderData(bytes.Repeat([]byte{0x01}, 16))
		proof := signedProof(t, key, signedHeaderData, zipped)
		header, _ := tlv.Marshal(
			tlv.BytesField(FieldSHA256WithRSA, proof),
			tlv.BytesField(FieldSignedHeaderData, signedHeaderData),
		)
		c, err := Parse(buildV3Custom(t, header, zipped))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		expectRule(t, Verify(c), KindVerify, "CRX-VER-003")
	})

	t.Run("no rsa proof", func(t *testing.T) {
		signedHeaderData, _ := EncodeSignedHeaderData(keys.DeriveID(pub))
		header, _ := tlv.Marshal(tlv.BytesField(FieldSignedHeaderData, signedHeaderData))
		c, err := Parse(buildV3Custom(t, header, zipped))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		expectRule(t, Verify(c), KindVerify, "CRX-VER-001")
	})

	t.Run("bad public key", func(t *testing.T) {
		signedHeaderData, _ := EncodeSignedHeaderData(keys.DeriveID(pub))
		proof, _ := tlv.Marshal(tlv.BytesField(FieldPublicKey, []byte{0x30, 0x00}), tlv.BytesField(FieldSignature, []byte{1}))
		header, _ := tlv.Marshal(
			tlv.BytesField(FieldSHA256WithRSA, proof),
			tlv.BytesField(FieldSignedHeaderData, signedHeaderData),
		)
		c, err := Parse(buildV3Custom(t, header, zipped))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		expectRule(t, Verify(c), KindVerify, "CRX-VER-004")
	})

	t.Run("nil", func(t *testing.T) {
		expectRule(t, Verify(nil), KindVerify, "CRX-VER-000")
	})
}

func TestDescribe_V2(t *testing.T) {
	out, err := BuildV2(fixedKey(t), []byte("archive"))
	if err != nil {
		t.Fatalf("BuildV2: %v", err)
	}
	c, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var buf bytes.Buffer
	if err := Describe(&buf, c); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	for _, want := range []string{"Version: 2", "CRX2 Header:", "Public Key: offset 16", "Signature: offset", "Archive: offset", "Extension ID: "} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("report missing %q:\n%s", want, buf.String())
		}
	}
}

func TestBuild_UnsupportedVersion(t *testing.T) {
	_, err := Build(1, fixedKey(t), nil)
	expectRule(t, err, KindEncoding, "CRX-ENC-003")
}

func TestErrorHelpers(t *testing.T) {
	_, err := Parse([]byte("nope"))
	if !IsKind(err, KindFormat) || RuleID(err) != "CRX-FMT-001" {
		t.Fatalf("unexpected helpers result for %v", err)
	}
	plain := errors.New("plain")
	if IsKind(plain, KindFormat) || RuleID(plain) != "" {
		t.Fatalf("plain errors carry no kind")
	}
}
