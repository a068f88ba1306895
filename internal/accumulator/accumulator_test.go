package accumulator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evalgo/dbhealth/internal/accumulator"
	"github.com/evalgo/dbhealth/internal/model"
)

func TestSetAndGet(t *testing.T) {
	acc := accumulator.New()
	acc.Set("check_a", model.Finding{Status: model.StatusSuccess, Data: map[string]any{"ok": true}})

	f, ok := acc.Get("check_a")
	assert.True(t, ok)
	assert.Equal(t, model.StatusSuccess, f.Status)

	_, ok = acc.Get("missing")
	assert.False(t, ok)
}

func TestSetPreservesInsertionOrder(t *testing.T) {
	acc := accumulator.New()
	acc.Set("third", model.Finding{Status: model.StatusNotApplicable})
	acc.Set("first", model.Finding{Status: model.StatusNotApplicable})
	acc.Set("second", model.Finding{Status: model.StatusNotApplicable})

	var names []string
	for _, nf := range acc.All() {
		names = append(names, nf.CheckName)
	}
	assert.Equal(t, []string{"third", "first", "second"}, names)
}

func TestSetDuplicatePanics(t *testing.T) {
	acc := accumulator.New()
	acc.Set("check_a", model.Finding{Status: model.StatusNotApplicable})

	assert.PanicsWithError(t, `accumulator: finding for check "check_a" already set`, func() {
		acc.Set("check_a", model.Finding{Status: model.StatusNotApplicable})
	})
}

func TestViewIsReadOnly(t *testing.T) {
	acc := accumulator.New()
	acc.Set("check_a", model.Finding{Status: model.StatusSuccess, Data: map[string]any{"x": 1}})

	view := acc.View()
	f, ok := view.Get("check_a")
	assert.True(t, ok)
	assert.Equal(t, model.StatusSuccess, f.Status)
	assert.Len(t, view.All(), 1)
}
