package container

import (
	"sync/atomic"
	"testing"

	"github.com/iotech/iotcore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

// histogramSampleCount reports how many observations a histogram has
// recorded in total, since CollectAndCount only counts time series
// (always 1 for an unlabeled histogram), not observations.
func histogramSampleCount(h prometheus.Histogram) uint64 {
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

type fakeLoader map[string]string

func (f fakeLoader) Load(name string) (string, bool) {
	s, ok := f[name]
	return s, ok
}

type fakeComponent struct {
	started int32
	stopped int32
	refs    int64
}

func (f *fakeComponent) Start()       { atomic.AddInt32(&f.started, 1) }
func (f *fakeComponent) Stop()        { atomic.AddInt32(&f.stopped, 1) }
func (f *fakeComponent) AddRef()      { atomic.AddInt64(&f.refs, 1) }
func (f *fakeComponent) DecRef() bool { return atomic.AddInt64(&f.refs, -1) <= 0 }

func registerFakeFactory(t *testing.T, ctype string) []*fakeComponent {
	var created []*fakeComponent
	RegisterFactory(&Factory{
		Type: ctype,
		Configure: func(cont *Container, cfg map[string]any) (Component, error) {
			fc := &fakeComponent{}
			created = append(created, fc)
			return fc, nil
		},
		Free: func(c Component) {},
	})
	return created
}

func TestAllocFindFree(t *testing.T) {
	name := "test-container-alloc"
	c, err := Alloc(name)
	assert.NoError(t, err)
	assert.Equal(t, name, c.Name())

	_, err = Alloc(name)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	found, ok := Find(name)
	assert.True(t, ok)
	assert.Same(t, c, found)

	Free(c)
	_, ok = Find(name)
	assert.False(t, ok)
}

// orderedComponent is a fakeComponent that also appends "start <name>" /
// "stop <name>" to a shared log, so tests can check call order.
type orderedComponent struct {
	fakeComponent
	name  string
	order *[]string
}

func (o *orderedComponent) Start() {
	o.fakeComponent.Start()
	*o.order = append(*o.order, "start "+o.name)
}

func (o *orderedComponent) Stop() {
	o.fakeComponent.Stop()
	*o.order = append(*o.order, "stop "+o.name)
}

func TestStartStopOrder(t *testing.T) {
	ctype := "FakeOrdered"
	var order []string
	RegisterFactory(&Factory{
		Type: ctype,
		Configure: func(cont *Container, cfg map[string]any) (Component, error) {
			n, _ := cfg["Name"].(string)
			return &orderedComponent{name: n, order: &order}, nil
		},
		Free: func(c Component) {},
	})

	name := "test-container-order"
	c, err := Alloc(name)
	assert.NoError(t, err)
	defer Free(c)

	loader := fakeLoader{
		name: "a: FakeOrdered\nb: FakeOrdered\nc: FakeOrdered\n",
		"a":  "Name: a",
		"b":  "Name: b",
		"c":  "Name: c",
	}
	assert.NoError(t, c.Init(loader))

	var declared []string
	for _, info := range c.ListComponents() {
		declared = append(declared, info.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, declared)

	c.Start()
	c.Stop()
	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, order)
	for _, info := range c.ListComponents() {
		h, _ := c.findHolder(info.Name)
		oc := h.component.(*orderedComponent)
		assert.EqualValues(t, 1, oc.started)
		assert.EqualValues(t, 1, oc.stopped)
	}
}

func TestFindComponentLazyLoad(t *testing.T) {
	ctype := "FakeLazy"
	registerFakeFactory(t, ctype)

	name := "test-container-lazy"
	c, err := Alloc(name)
	assert.NoError(t, err)
	defer Free(c)

	loader := fakeLoader{
		name:         "main: FakeLazy\ndependency: FakeLazy\n",
		"main":       "{}",
		"dependency": "{}",
	}
	c.loader = loader

	comp, ok := c.FindComponent("dependency")
	assert.True(t, ok)
	assert.NotNil(t, comp)

	// Second lookup should find the already-loaded holder, not reload.
	comp2, ok := c.FindComponent("dependency")
	assert.True(t, ok)
	assert.Same(t, comp, comp2)
}

func TestFindComponentCycleDetected(t *testing.T) {
	ctype := "FakeCyclic"
	RegisterFactory(&Factory{
		Type: ctype,
		Configure: func(cont *Container, cfg map[string]any) (Component, error) {
			// Force a re-entrant FindComponent for the same name,
			// simulating a component whose config depends on itself.
			cont.FindComponent("self")
			return &fakeComponent{}, nil
		},
		Free: func(c Component) {},
	})

	name := "test-container-cycle"
	c, err := Alloc(name)
	assert.NoError(t, err)
	defer Free(c)

	loader := fakeLoader{
		name:   "self: FakeCyclic\n",
		"self": "{}",
	}
	c.loader = loader

	_, ok := c.FindComponent("self")
	// The inner recursive call is the one that detects the cycle and
	// fails; the outer call still succeeds in creating the component
	// once the inner lookup gives up.
	assert.True(t, ok)
}

func TestFindComponentECyclePropagatesSentinel(t *testing.T) {
	ctype := "FakeCyclicE"
	RegisterFactory(&Factory{
		Type: ctype,
		Configure: func(cont *Container, cfg map[string]any) (Component, error) {
			_, err := cont.FindComponentE("self")
			assert.ErrorIs(t, err, ErrCyclicReference)
			return &fakeComponent{}, nil
		},
		Free: func(c Component) {},
	})

	name := "test-container-cycle-e"
	c, err := Alloc(name)
	assert.NoError(t, err)
	defer Free(c)

	loader := fakeLoader{
		name:   "self: FakeCyclicE\n",
		"self": "{}",
	}
	c.loader = loader

	comp, err := c.FindComponentE("self")
	assert.NoError(t, err)
	assert.NotNil(t, comp)
}

func TestInitObservesDurationAndErrors(t *testing.T) {
	ctype := "FakeTimed"
	registerFakeFactory(t, ctype)

	name := "test-container-timed"
	c, err := Alloc(name)
	assert.NoError(t, err)
	defer Free(c)

	beforeCount := histogramSampleCount(metrics.ContainerInitDuration)
	errsBefore := testutil.ToFloat64(metrics.ComponentCreateErrors.WithLabelValues(name))
	activeBefore := testutil.ToFloat64(metrics.ComponentsActive.WithLabelValues(name))

	loader := fakeLoader{
		name:   "ok: FakeTimed\nbad: Unregistered\n",
		"ok":   "{}",
		"bad":  "{}",
	}
	assert.NoError(t, c.Init(loader))

	assert.Equal(t, beforeCount+1, histogramSampleCount(metrics.ContainerInitDuration))
	assert.Equal(t, errsBefore+1, testutil.ToFloat64(metrics.ComponentCreateErrors.WithLabelValues(name)))
	assert.Equal(t, activeBefore+1, testutil.ToFloat64(metrics.ComponentsActive.WithLabelValues(name)))
}

func TestContainersTotalTracksAllocFree(t *testing.T) {
	before := testutil.ToFloat64(metrics.ContainersTotal)

	c, err := Alloc("test-container-metrics-total")
	assert.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ContainersTotal))

	Free(c)
	assert.Equal(t, before, testutil.ToFloat64(metrics.ContainersTotal))
}

func TestDeleteComponent(t *testing.T) {
	ctype := "FakeDeletable"
	registerFakeFactory(t, ctype)

	name := "test-container-delete"
	c, err := Alloc(name)
	assert.NoError(t, err)
	defer Free(c)

	loader := fakeLoader{name: "x: FakeDeletable\n", "x": "{}"}
	assert.NoError(t, c.Init(loader))

	h, ok := c.findHolder("x")
	assert.True(t, ok)
	fc := h.component.(*fakeComponent)

	assert.NoError(t, c.DeleteComponent("x"))
	assert.EqualValues(t, 1, fc.stopped)
	_, ok = c.findHolder("x")
	assert.False(t, ok)

	err = c.DeleteComponent("x")
	assert.ErrorIs(t, err, ErrNotFound)
}
