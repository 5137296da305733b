// Package protocol names the remote methods conduit processes call on each
// other and the payloads they carry.
//
// Four interfaces meet at the manager and worker portals:
//
//	worker     worker daemon <-> manager
//	component  job process (one component) <-> manager
//	admin      CLI or other client <-> manager
//	job        job process <-> its worker
//
// Method constants are grouped by the side that serves them.
package protocol
