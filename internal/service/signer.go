package service

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// unsignedPayload is the SigV4 sentinel for requests whose body is not
// hashed up front — the chunked data-plane PUT has no bounded body to
// hash before the request starts.
const unsignedPayload = "UNSIGNED-PAYLOAD"

// signer wraps the ecosystem SigV4 implementation so the rest of this
// package never imports aws-sdk-go-v2/aws/signer/v4 directly.
type signer struct {
	inner *v4.Signer
}

func newSigner() *signer {
	return &signer{inner: v4.NewSigner()}
}

func (s *signer) sign(ctx context.Context, creds aws.Credentials, req *http.Request, payloadHash, service, region string, signingTime time.Time) error {
	return s.inner.SignHTTP(ctx, creds, req, payloadHash, service, region, signingTime)
}
