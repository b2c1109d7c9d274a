/*
	Package mipvol provides types, constants, and functions that have no other dependencies
	and can be used by all packages within mipvol.  This includes the resolution pyramid
	model, bounding-box algebra, dense arrays, the error taxonomy, and logging.

	All coordinates handled by this package are (z, y, x) ordered voxel coordinates at an
	explicitly stated resolution level.  The on-disk neuroglancer ordering (x, y, z) is only
	seen at the JSON boundary of VolumeInfo.
*/
package mipvol
