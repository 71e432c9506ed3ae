package operator

import (
	"fmt"
	"math"
)

// Partition is a contiguous band of grid rows processed as one unit of work
// during assembly. Start and End are flat node indices, End exclusive.
type Partition struct {
	ID         int
	Start, End int
	NumRows    int
}

// PartitionLayout manages the decomposition of the node range
type PartitionLayout struct {
	Partitions    []Partition
	NumPartitions int
	TotalNodes    int
	RowLength     int // Nodes per grid row
}

// BuildPartitions splits numRows rows of rowLength nodes into at most
// numPartitions bands of whole rows, sizes differing by at most one row.
func BuildPartitions(numRows, rowLength, numPartitions int) (*PartitionLayout, error) {
	if numRows < 1 || rowLength < 1 {
		return nil, fmt.Errorf("invalid partition extent: %d rows of %d nodes", numRows, rowLength)
	}
	// Ensure at least one partition and no empty ones
	if numPartitions < 1 {
		numPartitions = 1
	}
	if numPartitions > numRows {
		numPartitions = numRows
	}

	rowsPerPartition := int(math.Floor(float64(numRows) / float64(numPartitions)))
	extra := numRows - rowsPerPartition*numPartitions

	layout := &PartitionLayout{
		Partitions:    make([]Partition, numPartitions),
		NumPartitions: numPartitions,
		TotalNodes:    numRows * rowLength,
		RowLength:     rowLength,
	}
	row := 0
	for p := range layout.Partitions {
		n := rowsPerPartition
		if p < extra {
			n++
		}
		layout.Partitions[p] = Partition{
			ID:      p,
			Start:   row * rowLength,
			End:     (row + n) * rowLength,
			NumRows: n,
		}
		row += n
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// ValidateLayout checks that the partitions tile the node range exactly
func (pl *PartitionLayout) ValidateLayout() error {
	next := 0
	for i, p := range pl.Partitions {
		if p.ID != i {
			return fmt.Errorf("partition %d: ID %d out of sequence", i, p.ID)
		}
		if p.Start != next {
			return fmt.Errorf("partition %d: starts at %d, expected %d", i, p.Start, next)
		}
		if p.End <= p.Start {
			return fmt.Errorf("partition %d: empty range [%d, %d)", i, p.Start, p.End)
		}
		if p.End-p.Start != p.NumRows*pl.RowLength {
			return fmt.Errorf("partition %d: range does not hold %d whole rows", i, p.NumRows)
		}
		next = p.End
	}
	if next != pl.TotalNodes {
		return fmt.Errorf("partitions cover %d nodes, expected %d", next, pl.TotalNodes)
	}
	return nil
}
