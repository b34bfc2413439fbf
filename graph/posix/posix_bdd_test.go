package posix

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/vexfs/vexfs/blockio"
	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/graph"
	"github.com/vexfs/vexfs/journal"
)

var _ = Describe("Mapper", func() {
	var (
		store *graph.Store
		m     *Mapper
		j     *journal.Journal
	)

	BeforeEach(func() {
		store = graph.NewStore(func() uint64 { return 1 })
		m = NewMapper(store)
		dev := blockio.NewMemDisk(4096)
		cfg := journal.Config{
			StartBlock:      0,
			RingBlocks:      256,
			CommitThreads:   2,
			ConcurrentLimit: 64,
			BarrierTimeout:  time.Second,
		}
		var err error
		j, err = journal.Open(context.Background(), cfg, dev, blockio.MonoClock{})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		j.Close()
	})

	enable := func(objectID uint64, nodeType string) (*graph.Node, error) {
		txn, err := j.Begin(64, "test.posix_bdd", 0)
		if err != nil {
			return nil, err
		}
		n, err := m.EnableAwareness(txn, objectID, nodeType)
		if err != nil {
			j.Abort(txn)
			return nil, err
		}
		return n, j.Commit(context.Background(), txn)
	}

	disable := func(objectID uint64, cascade bool) error {
		txn, err := j.Begin(64, "test.posix_bdd", 0)
		if err != nil {
			return err
		}
		if err := m.DisableAwareness(txn, objectID, cascade); err != nil {
			j.Abort(txn)
			return err
		}
		return j.Commit(context.Background(), txn)
	}

	Describe("EnableAwareness", func() {
		It("should create a bidirectional mapping", func() {
			n, err := enable(42, "file")
			Expect(err).NotTo(HaveOccurred())

			nodeID, err := m.NodeForObject(42)
			Expect(err).NotTo(HaveOccurred())
			Expect(nodeID).To(Equal(n.ID))

			objID, err := m.ObjectForNode(n.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(objID).To(BeEquivalentTo(42))

			Expect(m.Count()).To(Equal(1))
		})

		It("should bump view_version on every create", func() {
			before := m.ViewVersion()
			_, err := enable(1, "file")
			Expect(err).NotTo(HaveOccurred())
			Expect(m.ViewVersion()).To(BeNumerically(">", before))
		})

		It("should reject a duplicate object id", func() {
			_, err := enable(7, "file")
			Expect(err).NotTo(HaveOccurred())

			_, err = enable(7, "file")
			Expect(cmn.CodeOf(err)).To(Equal(cmn.ErrExists))
		})

		DescribeTable("accepts any non-zero node type string",
			func(nodeType string) {
				n, err := enable(99, nodeType)
				Expect(err).NotTo(HaveOccurred())
				Expect(n.Type).To(Equal(nodeType))
			},
			Entry("file", "file"),
			Entry("dir", "dir"),
			Entry("symlink", "symlink"),
		)
	})

	Describe("DisableAwareness", func() {
		It("should remove both mapping directions and destroy the node", func() {
			n, err := enable(5, "file")
			Expect(err).NotTo(HaveOccurred())

			Expect(disable(5, false)).To(Succeed())

			_, err = m.NodeForObject(5)
			Expect(cmn.CodeOf(err)).To(Equal(cmn.ErrNotFound))

			_, err = m.ObjectForNode(n.ID)
			Expect(cmn.CodeOf(err)).To(Equal(cmn.ErrNotFound))

			Expect(m.Count()).To(Equal(0))
		})

		It("should fail with NotFound for an unmapped object", func() {
			err := disable(123, false)
			Expect(cmn.CodeOf(err)).To(Equal(cmn.ErrNotFound))
		})
	})

	Describe("view_version", func() {
		It("lets a reader detect a torn view across a create", func() {
			before := m.ViewVersion()
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = enable(200, "file")
			}()
			<-done
			after := m.ViewVersion()
			Expect(after).To(BeNumerically(">", before))
		})
	})
})
