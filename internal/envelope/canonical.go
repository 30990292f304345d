package envelope

import (
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// canonicalizer performs exclusive XML Canonicalization (C14N 1.0,
// exclusive, no comments) — the same algorithm the Go XML-security
// ecosystem (SAML response verification, WS-Security) uses, and the one
// this wire format names explicitly. It is applied on ingress and is the
// only representation ever logged, diffed, or (by the privileged
// transport layer) signed.
var canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

// Canonicalize parses repaired XML and returns its exclusive-C14N
// serialization. This is stage 2 of the per-listener preprocessing
// pipeline (SPEC_FULL §4.2).
func Canonicalize(repaired []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(repaired); err != nil {
		return nil, fmt.Errorf("envelope: canonicalize: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("envelope: canonicalize: empty document")
	}
	out, err := canonicalizer.Canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("envelope: canonicalize: %w", err)
	}
	return out, nil
}

// CanonicalEqual reports whether two raw XML byte sequences canonicalize
// to byte-identical representations — the basis of testable property 4
// (deterministic handlers produce byte-identical canonicalized output).
func CanonicalEqual(a, b []byte) (bool, error) {
	ca, err := Canonicalize(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonicalize(b)
	if err != nil {
		return false, err
	}
	return string(ca) == string(cb), nil
}
