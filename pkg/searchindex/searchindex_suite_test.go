package searchindex_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSearchindex(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Searchindex Suite")
}
