// Package models contains the GORM persistence models mirroring the
// domain entities. Models own the table mapping and index definitions;
// conversion to and from domain types happens through the ToDomain and
// FromDomain methods so domain code never sees GORM tags.
package models
