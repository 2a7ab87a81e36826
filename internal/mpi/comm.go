package mpi

// Comm is a communicator over an ordered subset of world ranks. Collective
// calls must be entered by every member in the same order; they are
// implemented as gather-to-root plus broadcast, which keeps the result
// deterministic regardless of goroutine scheduling.
type Comm struct {
	ctx     *Context
	ranks   []int
	myIndex int
}

func newComm(ctx *Context, ranks []int) *Comm {
	myIndex := -1
	for i, r := range ranks {
		if r == ctx.rank {
			myIndex = i
			break
		}
	}
	return &Comm{ctx: ctx, ranks: ranks, myIndex: myIndex}
}

// Size returns the number of members.
func (c *Comm) Size() int {
	return len(c.ranks)
}

// Rank returns this member's index within the communicator.
func (c *Comm) Rank() int {
	return c.myIndex
}

// WorldRank translates a communicator index to a world rank.
func (c *Comm) WorldRank(index int) int {
	return c.ranks[index]
}

// root returns the world rank of the communicator root (index 0).
func (c *Comm) root() int {
	return c.ranks[0]
}

// isRoot reports whether this member is the communicator root.
func (c *Comm) isRoot() bool {
	return c.myIndex == 0
}

// Barrier blocks until every member has entered.
func (c *Comm) Barrier() {
	if c.isRoot() {
		for _, r := range c.ranks[1:] {
			c.ctx.Recv(r, TagCollective)
		}
		for _, r := range c.ranks[1:] {
			c.ctx.Send(r, TagCollective, nil)
		}
		return
	}
	c.ctx.Send(c.root(), TagCollective, nil)
	c.ctx.Recv(c.root(), TagCollective)
}

// Bcast distributes the root's payload to every member and returns it.
// Non-root members pass nil.
func (c *Comm) Bcast(payload interface{}) interface{} {
	if c.isRoot() {
		for _, r := range c.ranks[1:] {
			c.ctx.Send(r, TagCollective, payload)
		}
		return payload
	}
	return c.ctx.Recv(c.root(), TagCollective)
}

// Gather collects every member's payload at the root, ordered by
// communicator index. Non-root members receive nil.
func (c *Comm) Gather(payload interface{}) []interface{} {
	if c.isRoot() {
		all := make([]interface{}, len(c.ranks))
		all[0] = payload
		for i, r := range c.ranks[1:] {
			all[i+1] = c.ctx.Recv(r, TagCollective)
		}
		return all
	}
	c.ctx.Send(c.root(), TagCollective, payload)
	return nil
}

// AllreduceSum sums the element vectors of all members and returns the sum
// on every member. All vectors must have identical length.
func (c *Comm) AllreduceSum(vals []float64) []float64 {
	if c.isRoot() {
		sum := make([]float64, len(vals))
		copy(sum, vals)
		for _, r := range c.ranks[1:] {
			other := c.ctx.Recv(r, TagCollective).([]float64)
			for i := range sum {
				sum[i] += other[i]
			}
		}
		// Each member gets its own copy so no slice is shared across ranks.
		for _, r := range c.ranks[1:] {
			cp := make([]float64, len(sum))
			copy(cp, sum)
			c.ctx.Send(r, TagCollective, cp)
		}
		return sum
	}

	cp := make([]float64, len(vals))
	copy(cp, vals)
	c.ctx.Send(c.root(), TagCollective, cp)
	return c.ctx.Recv(c.root(), TagCollective).([]float64)
}
