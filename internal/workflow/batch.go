package workflow

import (
	"fmt"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Batches группирует индексы шагов: граница батча на каждом шаге с Parallel=false,
// подряд идущие Parallel=true присоединяются к текущему батчу. Первый шаг всегда открывает батч.
func Batches(steps []domain.Step) [][]int {
	var out [][]int
	for i, s := range steps {
		if len(out) == 0 || !s.Parallel {
			out = append(out, []int{i})
			continue
		}
		last := len(out) - 1
		out[last] = append(out[last], i)
	}
	return out
}

// stepID идентификатор шага; без явного ID берется позиция
func stepID(s domain.Step, index int) string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("step_%d", index+1)
}

// BatchIDs батчи в виде идентификаторов шагов (для сводки)
func BatchIDs(steps []domain.Step) [][]string {
	batches := Batches(steps)
	out := make([][]string, len(batches))
	for i, b := range batches {
		ids := make([]string, len(b))
		for j, idx := range b {
			ids[j] = stepID(steps[idx], idx)
		}
		out[i] = ids
	}
	return out
}
