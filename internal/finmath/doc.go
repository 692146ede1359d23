// Package finmath holds the pure financial formulas used by the analysis
// engine: tax regime comparison, emergency fund sizing, debt analysis,
// insurance needs, income volatility, retirement corpus and savings rate.
//
// Every function is deterministic and free of I/O. Monetary values are
// rupees as float64; rates are fractions (0.06) unless the name says
// percent.
package finmath
