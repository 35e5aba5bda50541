package crypto

import (
	"crypto/rand"
	"errors"
	"math"
)

const (
	// DocumentIDAlphabet matches the auto-id alphabet of hosted document
	// stores so ids minted here and ids minted by a backend look alike.
	DocumentIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	DocumentIDSize     = 20

	maxAlphabetSize = 255
	minAlphabetSize = 8
)

var (
	ErrAlphabetTooLong  = errors.New("alphabet must contain no more than 255 characters")
	ErrAlphabetTooShort = errors.New("alphabet must contain at least 8 characters")
	ErrAlphabetNotASCII = errors.New("alphabet must contain only ASCII characters")
)

type NanoIDGenerator struct {
	alphabet string
	mask     int
	size     int
}

var documentIDs = mustNanoID(DocumentIDAlphabet, DocumentIDSize)

// NewDocumentID returns a random 20 character id for AddDoc.
func NewDocumentID() (string, error) {
	return documentIDs.Generate()
}

func getMask(alphabetLen int) int {
	for i := 1; i <= 8; i++ {
		mask := (2 << uint(i)) - 1
		if mask > alphabetLen-1 {
			return mask
		}
	}
	return maxAlphabetSize
}

func NewNanoID(alphabet string, size int) (*NanoIDGenerator, error) {
	// Generate indexes by byte position.
	for _, r := range alphabet {
		if r > 127 {
			return nil, ErrAlphabetNotASCII
		}
	}
	if len(alphabet) > maxAlphabetSize {
		return nil, ErrAlphabetTooLong
	}
	if len(alphabet) < minAlphabetSize {
		return nil, ErrAlphabetTooShort
	}
	if size <= 0 {
		size = DocumentIDSize
	}

	return &NanoIDGenerator{
		alphabet: alphabet,
		mask:     getMask(len(alphabet)),
		size:     size,
	}, nil
}

func mustNanoID(alphabet string, size int) *NanoIDGenerator {
	g, err := NewNanoID(alphabet, size)
	if err != nil {
		panic(err)
	}
	return g
}

func (n *NanoIDGenerator) Generate() (string, error) {
	alphabetLen := len(n.alphabet)
	step := int(math.Ceil(1.6 * float64(n.mask*n.size) / float64(alphabetLen)))

	id := make([]byte, n.size)
	buffer := make([]byte, step)

	for position := 0; position < n.size; {
		if _, err := rand.Read(buffer); err != nil {
			return "", err
		}

		for i := 0; i < step && position < n.size; i++ {
			index := buffer[i] & byte(n.mask)
			if int(index) < alphabetLen {
				id[position] = n.alphabet[index]
				position++
			}
		}
	}

	return string(id), nil
}
