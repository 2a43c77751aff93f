package lumenfs

import (
	"fmt"
)

// Geometry describes the fixed, construction-time shape of the underlying
// block device: its erase granule (sector), its allocation/program granule
// (cluster), and the derived counts every other component works in terms
// of. Every other component validates it once, up front, rather than
// re-checking these invariants on every call.
type Geometry struct {
	// DeviceSize is the total addressable size of the block device, in
	// bytes.
	DeviceSize int64

	// SectorSize is the erase granule, in bytes.
	SectorSize int

	// ClusterSize is the program granule and logical allocation unit, in
	// bytes. Must divide SectorSize.
	ClusterSize int
}

// ClustersPerSector returns sector_size / cluster_size.
func (g Geometry) ClustersPerSector() int {
	return g.SectorSize / g.ClusterSize
}

// TotalClusterCount returns device_size / cluster_size.
func (g Geometry) TotalClusterCount() int {
	return int(g.DeviceSize / int64(g.ClusterSize))
}

// TotalSectorCount returns device_size / sector_size.
func (g Geometry) TotalSectorCount() int {
	return int(g.DeviceSize / int64(g.SectorSize))
}

// SectorOf returns the sector id that contains the given cluster id.
func (g Geometry) SectorOf(clusterID uint16) uint16 {
	return uint16(int(clusterID) / g.ClustersPerSector())
}

// IsSectorHead indicates whether clusterID is the first cluster of its
// sector.
func (g Geometry) IsSectorHead(clusterID uint16) bool {
	return int(clusterID)%g.ClustersPerSector() == 0
}

// FirstClusterOfSector returns the id of the first cluster in sectorID.
func (g Geometry) FirstClusterOfSector(sectorID uint16) uint16 {
	return uint16(int(sectorID) * g.ClustersPerSector())
}

// Validate checks the invariants the rest of the package assumes hold for a
// Geometry: cluster size divides sector size, the device holds a whole
// number of sectors, and the cluster count fits in a 16-bit id.
func (g Geometry) Validate() error {
	if g.SectorSize <= 0 || g.ClusterSize <= 0 || g.DeviceSize <= 0 {
		return NewError(ErrorKindArgumentOutOfRange, "geometry fields must be positive: sector=%d cluster=%d device=%d", g.SectorSize, g.ClusterSize, g.DeviceSize)
	}

	if g.SectorSize%g.ClusterSize != 0 {
		return NewError(ErrorKindArgumentOutOfRange, "cluster-size (%d) must divide sector-size (%d)", g.ClusterSize, g.SectorSize)
	}

	if g.DeviceSize%int64(g.SectorSize) != 0 {
		return NewError(ErrorKindArgumentOutOfRange, "device-size (%d) must be a whole number of sectors (%d)", g.DeviceSize, g.SectorSize)
	}

	totalClusters := g.TotalClusterCount()
	if totalClusters > 0xffff {
		return NewError(ErrorKindArgumentOutOfRange, "total cluster-count (%d) must fit in 16 bits", totalClusters)
	}

	if g.ClustersPerSector() < 2 {
		return NewError(ErrorKindArgumentOutOfRange, "need at least 2 clusters per sector (common-header plus at least one data cluster), got (%d)", g.ClustersPerSector())
	}

	return nil
}

// String returns a descriptive summary in the angle-bracket field-dump
// style used elsewhere in this package.
func (g Geometry) String() string {
	return fmt.Sprintf(
		"Geometry<DEVICE=(%d) SECTOR=(%d) CLUSTER=(%d) CLUSTERS/SECTOR=(%d) TOTAL-CLUSTERS=(%d)>",
		g.DeviceSize, g.SectorSize, g.ClusterSize, g.ClustersPerSector(), g.TotalClusterCount())
}
