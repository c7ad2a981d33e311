// Package models contains the GORM persistence models for the delivery queue
// and the SLO engine. Domain types stay free of ORM tags; each model converts
// to and from its domain type with ToDomain / FromDomain.
package models
