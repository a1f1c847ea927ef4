package index

import (
	"github.com/google/uuid"
)

// Search resolves a file ID query to the addresses of peers holding
// the file. A query that is not a valid UUID yields no results.
func (i *Index) Search(query string) []string {
	fileID, err := uuid.Parse(query)
	if err != nil {
		log.Errorw("search", "error", "invalid file ID in query", "query", query)
		return nil
	}

	peers, exists := i.Lookup(fileID)
	if !exists {
		log.Infow("search", "event", "no peers found", "fileID", fileID)
		return nil
	}

	addresses := make([]string, 0, len(peers))
	for _, peer := range peers {
		addresses = append(addresses, peer.Address)
	}

	log.Infow("search", "event", "found", "fileID", fileID, "peers", addresses)

	return addresses
}
