package engine_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/cmn/cerr"
	"github.com/vktsdb/tsengine/engine"
	"github.com/vktsdb/tsengine/series"
)

var _ = Describe("S3 compaction on append", func() {
	It("flushes the closed bucket to the destination and keeps the open bucket running", func() {
		eng := engine.New()
		_, err := eng.Create("S", engine.CreateOptions{Series: series.DefaultOptions()}, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.Create("D", engine.CreateOptions{Series: series.DefaultOptions()}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(eng.CreateRule("S", "D", agg.Avg, 10, 0, agg.Params{})).To(Succeed())

		for _, s := range [][2]float64{{5, 10}, {7, 20}, {15, 30}} {
			_, err := eng.Add("S", int64(s[0]), s[1], nil)
			Expect(err).NotTo(HaveOccurred())
		}

		got, ok := eng.Get("D", false)
		Expect(ok).To(BeTrue())
		Expect(got.Timestamp).To(Equal(int64(0)))
		Expect(got.Value).To(BeNumerically("~", 15, 1e-9))

		virtual, ok := eng.Get("D", true)
		Expect(ok).To(BeTrue())
		Expect(virtual.Timestamp).To(Equal(int64(10)))
		Expect(virtual.Value).To(BeNumerically("~", 30, 1e-9))
	})
})

var _ = Describe("S4 backfill upsert", func() {
	It("replays the closed bucket and overwrites the destination point, leaving the open bucket alone", func() {
		eng := engine.New()
		_, err := eng.Create("S", engine.CreateOptions{Series: series.DefaultOptions()}, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.Create("D", engine.CreateOptions{Series: series.DefaultOptions()}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(eng.CreateRule("S", "D", agg.Avg, 10, 0, agg.Params{})).To(Succeed())

		for _, s := range [][2]float64{{5, 10}, {7, 20}, {15, 30}} {
			_, err := eng.Add("S", int64(s[0]), s[1], nil)
			Expect(err).NotTo(HaveOccurred())
		}

		_, err = eng.Add("S", 6, 40, nil)
		Expect(err).NotTo(HaveOccurred())

		got, ok := eng.Get("D", false)
		Expect(ok).To(BeTrue())
		Expect(got.Timestamp).To(Equal(int64(0)))
		Expect(got.Value).To(BeNumerically("~", float64(10+20+40)/3, 1e-9))

		virtual, ok := eng.Get("D", true)
		Expect(ok).To(BeTrue())
		Expect(virtual.Timestamp).To(Equal(int64(10)))
		Expect(virtual.Value).To(BeNumerically("~", 30, 1e-9))
	})
})

var _ = Describe("S5 range delete across buckets", func() {
	It("removes the destination point, clears the open bucket, and starts a fresh bucket on the next append", func() {
		eng := engine.New()
		_, err := eng.Create("S", engine.CreateOptions{Series: series.DefaultOptions()}, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.Create("D", engine.CreateOptions{Series: series.DefaultOptions()}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(eng.CreateRule("S", "D", agg.Avg, 10, 0, agg.Params{})).To(Succeed())

		for _, s := range [][2]float64{{5, 10}, {7, 20}, {15, 30}} {
			_, err := eng.Add("S", int64(s[0]), s[1], nil)
			Expect(err).NotTo(HaveOccurred())
		}

		_, err = eng.Del("S", 5, 15)
		Expect(err).NotTo(HaveOccurred())

		_, ok := eng.Get("D", false)
		Expect(ok).To(BeFalse())

		_, err = eng.Add("S", 20, 50, nil)
		Expect(err).NotTo(HaveOccurred())

		// No flush can have happened yet (the bucket opened at 20 is
		// still accumulating), so D must remain empty.
		_, ok = eng.Get("D", false)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("S8 cycle rejection", func() {
	It("rejects a rule that would close a cycle and leaves the graph unchanged", func() {
		eng := engine.New()
		for _, key := range []string{"S1", "S2", "S3"} {
			_, err := eng.Create(key, engine.CreateOptions{Series: series.DefaultOptions()}, nil)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(eng.CreateRule("S1", "S2", agg.Sum, 1000, 0, agg.Params{})).To(Succeed())
		Expect(eng.CreateRule("S2", "S3", agg.Sum, 1000, 0, agg.Params{})).To(Succeed())

		err := eng.CreateRule("S3", "S1", agg.Sum, 1000, 0, agg.Params{})
		Expect(cerr.Is(err, cerr.CircularDependency)).To(BeTrue())

		info, err := eng.Info("S1")
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDestination).To(BeFalse())
	})
})
