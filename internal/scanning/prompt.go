package scanning

// pageScanPrompt is the shared prompt used by all LLM providers for reading a page
const pageScanPrompt = `You are looking at one page of an expense claim: a receipt, an invoice or a Taiwanese uniform invoice (統一發票). Read all the text on the page and extract:

1. **Merchant**: the seller's business name, usually printed at the top. Keep it in the language it is printed in.

2. **Date**: the transaction date in YYYY-MM-DD. Taiwanese documents often use the ROC calendar (e.g. 113/01/15 or 民國113年1月15日); convert it by adding 1911 to the year.

3. **Amount**: the final total (總計, 合計, TOTAL) as a number.

4. **Currency**: the ISO 4217 code. Use "TWD" when the page shows NT$, 元 or no currency at all.

Return ONLY valid JSON in this exact format:
{
  "merchant": "Merchant name",
  "date": "YYYY-MM-DD",
  "amount": 0,
  "currency": "TWD"
}

Important:
- The amount must be a number, not a string
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
