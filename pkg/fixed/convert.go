package fixed

import "github.com/holiman/uint256"

// Conversions between contract sizes and collateral amounts.
//
// Contracts are denominated in the underlying token's decimals. Call
// collateral is the underlying itself, so the conversion is identity.
// Put collateral is the base token: one contract is worth its strike in
// base units, rescaled between the two tokens' decimals.

// ToBaseTokenAmount rescales value from one token's decimals to another's.
func ToBaseTokenAmount(fromDecimals, toDecimals uint8, value *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Set(value)
	if toDecimals > fromDecimals {
		pow := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(toDecimals-fromDecimals)))
		if _, overflow := out.MulOverflow(out, pow); overflow {
			panic(ErrOverflow)
		}
		return out
	}
	if fromDecimals > toDecimals {
		pow := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(fromDecimals-toDecimals)))
		out.Div(out, pow)
	}
	return out
}

// FromContractsToCollateral converts a contract size into the collateral
// required to underwrite it at the given strike.
func FromContractsToCollateral(size *uint256.Int, isCall bool, underlyingDecimals, baseDecimals uint8, strike Q) *uint256.Int {
	if isCall {
		return new(uint256.Int).Set(size)
	}
	return ToBaseTokenAmount(underlyingDecimals, baseDecimals, strike.Muli(size))
}

// FromCollateralToContracts is the inverse of FromContractsToCollateral.
// Contracts are carried in 18 decimals on the underlying side.
func FromCollateralToContracts(collateral *uint256.Int, isCall bool, baseDecimals uint8, strike Q) *uint256.Int {
	if isCall {
		return new(uint256.Int).Set(collateral)
	}
	if strike.Sign() <= 0 {
		panic(ErrDivisionByZero)
	}
	padded := ToBaseTokenAmount(baseDecimals, 18, collateral)
	return strike.Divu(padded)
}
