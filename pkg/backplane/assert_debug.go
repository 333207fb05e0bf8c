//go:build ftbdebug

package backplane

const debugAssertions = true
