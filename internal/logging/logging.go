// Package logging provides the single logrus logger every package in
// this module pulls from, tagged with a component field.
package logging

import "github.com/sirupsen/logrus"

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel adjusts verbosity for the whole module. Useful for -v flags.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// For returns a logger entry tagged with the given component name,
// e.g. logging.For("sendloop").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
