package posix

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestPosix(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "posix mapping suite")
}
