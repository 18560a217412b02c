package metacache_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMetacache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metacache Suite")
}
