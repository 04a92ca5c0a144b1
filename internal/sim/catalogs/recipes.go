package catalogs

import (
	"fmt"
	"sort"

	"chamberworks.ai/internal/sim/inventory"
)

// MaxRecipeInputs is the number of item input slots a reaction chamber has.
const MaxRecipeInputs = 3

type RecipeDef struct {
	RecipeID string       `json:"recipe_id"`
	Inputs   []ItemCount  `json:"inputs"`
	Fluid    *FluidAmount `json:"fluid,omitempty"`
	Output   ItemCount    `json:"output"`
	Energy   int          `json:"energy"`
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type FluidAmount struct {
	Fluid  string `json:"fluid"`
	Amount int    `json:"amount"`
}

func (r RecipeDef) Result() inventory.Stack {
	return inventory.Stack{Item: r.Output.Item, Count: r.Output.Count}
}

// Matches reports whether the slots and tank hold everything the recipe needs.
// Every non-empty slot has to hold one of the recipe's input items. A recipe
// without a fluid ignores the tank.
func (r RecipeDef) Matches(slots []inventory.Stack, tank inventory.FluidStack) bool {
	need := map[string]int{}
	for _, in := range r.Inputs {
		need[in.Item] += in.Count
	}
	have := map[string]int{}
	for _, st := range slots {
		if st.Empty() {
			continue
		}
		if _, ok := need[st.Item]; !ok {
			return false
		}
		have[st.Item] += st.Count
	}
	for item, n := range need {
		if have[item] < n {
			return false
		}
	}
	if r.Fluid != nil {
		if tank.Fluid != r.Fluid.Fluid || tank.Amount < r.Fluid.Amount {
			return false
		}
	}
	return true
}

type RecipeCatalog struct {
	ByID   map[string]RecipeDef
	Digest string

	order []string
}

func NewRecipeCatalog(defs []RecipeDef) (*RecipeCatalog, error) {
	rc := &RecipeCatalog{ByID: map[string]RecipeDef{}}
	for _, r := range defs {
		if r.RecipeID == "" {
			return nil, fmt.Errorf("empty recipe_id")
		}
		if _, dup := rc.ByID[r.RecipeID]; dup {
			return nil, fmt.Errorf("duplicate recipe_id %q", r.RecipeID)
		}
		if len(r.Inputs) == 0 || len(r.Inputs) > MaxRecipeInputs {
			return nil, fmt.Errorf("recipe %s: need 1..%d inputs, got %d", r.RecipeID, MaxRecipeInputs, len(r.Inputs))
		}
		if r.Output.Item == "" || r.Output.Count <= 0 {
			return nil, fmt.Errorf("recipe %s: missing output", r.RecipeID)
		}
		if r.Energy < 0 {
			return nil, fmt.Errorf("recipe %s: negative energy", r.RecipeID)
		}
		rc.ByID[r.RecipeID] = r
		rc.order = append(rc.order, r.RecipeID)
	}
	sort.Strings(rc.order)
	return rc, nil
}

// CheckSlotCapacity fails when a recipe needs more of one input, or makes
// more output, than a single slot of the given capacity can hold. Such a
// recipe could never start, or could never complete.
func (rc *RecipeCatalog) CheckSlotCapacity(capacity int) error {
	for _, id := range rc.order {
		r := rc.ByID[id]
		if r.Output.Count > capacity {
			return fmt.Errorf("recipe %s: output count %d exceeds slot capacity %d", id, r.Output.Count, capacity)
		}
		for _, in := range r.Inputs {
			if in.Count > capacity {
				return fmt.Errorf("recipe %s: input %s count %d exceeds slot capacity %d", id, in.Item, in.Count, capacity)
			}
		}
	}
	return nil
}

func (rc *RecipeCatalog) IDs() []string {
	return append([]string(nil), rc.order...)
}

// FindRecipe returns the first recipe, by id, that the three input slots and
// the tank satisfy.
func (rc *RecipeCatalog) FindRecipe(a, b, c inventory.Stack, tank inventory.FluidStack) (RecipeDef, bool) {
	if rc == nil {
		return RecipeDef{}, false
	}
	slots := []inventory.Stack{a, b, c}
	for _, id := range rc.order {
		r := rc.ByID[id]
		if r.Matches(slots, tank) {
			return r, true
		}
	}
	return RecipeDef{}, false
}
