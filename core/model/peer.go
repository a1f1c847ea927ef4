package model

// Peer is a remote node, identified solely by its host:port address.
type Peer struct {
	Address string
}
