package did

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// EndpointType tags what a service endpoint provides.
type EndpointType uint32

const (
	// LinkedDomains marks an endpoint serving domains linked to the DID.
	LinkedDomains EndpointType = 1 << iota
)

// ServiceEndpoint is a service advertised in a DID record: a type tag plus
// one or more origins.
type ServiceEndpoint struct {
	Types   EndpointType
	Origins []string
}

// Validate refuses endpoints that carry no type or no origin.
func (se ServiceEndpoint) Validate() error {
	if se.Types == 0 {
		return xerrors.New("service endpoint without a type")
	}
	if len(se.Origins) == 0 {
		return xerrors.New("service endpoint without origins")
	}
	for _, o := range se.Origins {
		if o == "" {
			return xerrors.New("empty service endpoint origin")
		}
	}
	return nil
}

// EncodeTo writes the deterministic byte form of the endpoint.
func (se ServiceEndpoint) EncodeTo(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, uint32(se.Types)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(se.Origins))); err != nil {
		return err
	}
	for _, o := range se.Origins {
		if err := binary.Write(w, binary.BigEndian, uint32(len(o))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(o)); err != nil {
			return err
		}
	}
	return nil
}
