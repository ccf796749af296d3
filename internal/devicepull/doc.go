// Package devicepull fetches CSV telemetry from a SmartConnect boitier.
//
// A boitier answers
//
//	GET {scheme}://{address}/query.php?username=&password=&logtype=DATA&format=CSV
//	    &start_year=&start_month=&start_day=&start_hour=&start_min=&start_sec=
//
// with the readings recorded since the given start. Fetch tries https
// first and falls back to http when the caller gave no scheme. Transport,
// authentication and content failures come back as *DeviceError carrying
// an HTTP-like status code.
package devicepull
